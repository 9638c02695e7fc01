/*
 * Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shadstoneofficial/webhook-relay/pkg/relay"
	"github.com/shadstoneofficial/webhook-relay/pkg/signature"
	"github.com/spf13/cobra"
)

var (
	signSecret    string
	signTimestamp string
)

var signCmd = &cobra.Command{
	Use:   "sign [payload-file]",
	Short: "Sign a JSON payload the way the relay does",
	Long: "Compute the relay signature of a JSON payload read from a file (or stdin\n" +
		"when no file or '-' is given) and print the headers of a fallback delivery.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			payload []byte
			err     error
		)
		if len(args) == 0 || args[0] == "-" {
			payload, err = io.ReadAll(cmd.InOrStdin())
		} else {
			payload, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}

		if signSecret == "" {
			signSecret = os.Getenv("RELAY_API_KEY")
		}
		if signSecret == "" {
			return fmt.Errorf("a secret is required (--secret or RELAY_API_KEY)")
		}

		ts := signTimestamp
		if ts == "" {
			ts = strconv.FormatInt(time.Now().UnixMilli(), 10)
		}

		sig, err := signature.Sign(payload, ts, signSecret)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: %s\n", relay.HeaderTimestamp, ts)
		fmt.Fprintf(out, "%s: %s\n", relay.HeaderSignature, sig)
		return nil
	},
}

func init() {
	signCmd.Flags().StringVar(&signSecret, "secret", "", "Signing secret (defaults to RELAY_API_KEY)")
	signCmd.Flags().StringVar(&signTimestamp, "timestamp", "", "Timestamp to sign (defaults to now, in milliseconds)")
	rootCmd.AddCommand(signCmd)
}
