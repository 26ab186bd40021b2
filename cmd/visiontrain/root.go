/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/visiontrain/visiontrain/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	assumeYes  bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "visiontrain",
		Short:         "Configuration-driven image model training sessions",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.Setup(opts.logLevel)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the session configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log verbosity (info, debug, trace)")
	cmd.PersistentFlags().BoolVarP(&opts.assumeYes, "yes", "y", false, "answer yes to all confirmation prompts")
	_ = cmd.MarkPersistentFlagRequired("config")

	cmd.AddCommand(newSplitCommand(opts))
	cmd.AddCommand(newTrainCommand(opts))
	cmd.AddCommand(newEvalCommand(opts))
	return cmd
}

// confirmFunc builds the confirmation callback for split normalization: yes
// when --yes was passed, an interactive terminal prompt otherwise. A
// non-terminal stdin declines, so batch runs never hang.
func (o *rootOptions) confirmFunc() func(prompt string) bool {
	if o.assumeYes {
		return func(string) bool { return true }
	}
	return func(prompt string) bool {
		info, err := os.Stdin.Stat()
		if err != nil || info.Mode()&os.ModeCharDevice == 0 {
			return false
		}
		fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes"
	}
}
