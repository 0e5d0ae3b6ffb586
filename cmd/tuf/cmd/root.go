// Copyright 2024 The Update Framework Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License
//
// SPDX-License-Identifier: Apache-2.0

// Package cmd implements the tuf repository-editor CLI: root key/threshold
// management, repository creation and incremental updates, verified
// downloads, and delegation management. Grounded on the teacher's
// cli/tuf/cmd and cli/tuf-client/cmd cobra conventions.
package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Verbosity bool

var rootCmd = &cobra.Command{
	Use:           "tuf",
	Short:         "tuf - a repository-side CLI tool for The Update Framework (TUF)",
	Long:          "tuf - create, sign, and download The Update Framework (TUF) repository metadata",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if Verbosity {
			log.SetLevel(log.DebugLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&Verbosity, "verbose", "v", false, "verbose output")
}

// Execute runs the CLI and terminates the process with an exit code that
// reflects the failure class: 0 success, 1 verification failure, 2 usage
// error, 3 I/O/transport failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "tuf:", err)
	os.Exit(exitCode(err))
}
