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

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/editor"
)

var (
	delegMetadataDir string
	delegOutdir      string
	delegSigningRole string
	delegChildRole   string
	delegKeys        []string
	delegThreshold   int
	delegPaths       []string
	delegPathHashes  []string
	delegTerminating bool
	delegKeyID       string
	delegRecursive   bool
	delegIncoming    string
)

var delegationCmd = &cobra.Command{
	Use:   "delegation",
	Short: "Manage delegations from a targets-family role",
}

func init() {
	delegationCmd.PersistentFlags().StringVar(&delegMetadataDir, "metadata-dir", "", "directory holding the current repository metadata")
	delegationCmd.PersistentFlags().StringVar(&delegOutdir, "outdir", "", "output directory for the updated repository metadata")
	delegationCmd.PersistentFlags().StringVar(&delegSigningRole, "signing-role", "", "the delegator role whose Delegations are being edited")
	delegationCmd.AddCommand(delegCreateRoleCmd, delegAddRoleCmd, delegUpdateDelegatedTargetsCmd,
		delegAddKeyCmd, delegRemoveKeyCmd, delegRemoveRoleCmd)
	rootCmd.AddCommand(delegationCmd)
}

func openDelegationEditor() (*editor.RepositoryEditor, error) {
	if delegMetadataDir == "" || delegOutdir == "" || delegSigningRole == "" {
		return nil, errUsage("--metadata-dir, --outdir, and --signing-role are required")
	}
	repo, err := loadRepository(delegMetadataDir)
	if err != nil {
		return nil, err
	}
	e := editor.FromRepository(repo)
	if err := e.ChangeRole(delegSigningRole, nil); err != nil {
		return nil, err
	}
	return e, nil
}

// commitDelegation re-emits the repository, unsigned beyond whatever
// signatures already exist: producing valid fresh signatures for a changed
// delegator is the caller's job, via `tuf update --role <role> --key ...`
// run afterward.
func commitDelegation(e *editor.RepositoryEditor) error {
	if err := e.Commit(nil, delegOutdir); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "updated repository written to %s\n", delegOutdir)
	return nil
}

var delegCreateRoleCmd = &cobra.Command{
	Use:   "create-role <name>",
	Short: "Delegate a new role from --signing-role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		keys, err := parseKeys(delegKeys)
		if err != nil {
			return err
		}
		pubs := make([]*metadata.Key, 0, len(keys))
		for _, k := range keys {
			pub, err := k.PublicKey()
			if err != nil {
				return err
			}
			pubs = append(pubs, pub)
		}
		opts := editor.DelegateRoleOptions{
			Keys:             pubs,
			Threshold:        delegThreshold,
			Paths:            delegPaths,
			PathHashPrefixes: delegPathHashes,
			Terminating:      delegTerminating,
		}
		if err := e.DelegateRole(args[0], opts); err != nil {
			return err
		}
		return commitDelegation(e)
	},
}

var delegAddRoleCmd = &cobra.Command{
	Use:   "add-role <name>",
	Short: "Attach pre-signed metadata for a role not signed with --signing-role's keys",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if delegIncoming == "" {
			return errUsage("--incoming-metadata is required")
		}
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		child, err := new(metadata.Metadata[metadata.TargetsType]).FromFile(delegIncoming)
		if err != nil {
			return err
		}
		keys, err := parseKeys(delegKeys)
		if err != nil {
			return err
		}
		pubs := make([]*metadata.Key, 0, len(keys))
		for _, k := range keys {
			pub, err := k.PublicKey()
			if err != nil {
				return err
			}
			pubs = append(pubs, pub)
		}
		opts := editor.DelegateRoleOptions{
			Keys:             pubs,
			Threshold:        delegThreshold,
			Paths:            delegPaths,
			PathHashPrefixes: delegPathHashes,
			Terminating:      delegTerminating,
		}
		if err := e.AddRole(args[0], child, opts); err != nil {
			return err
		}
		return commitDelegation(e)
	},
}

var delegUpdateDelegatedTargetsCmd = &cobra.Command{
	Use:   "update-delegated-targets <name>",
	Short: "Replace the known metadata for an already-delegated role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if delegIncoming == "" {
			return errUsage("--incoming-metadata is required")
		}
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		child, err := new(metadata.Metadata[metadata.TargetsType]).FromFile(delegIncoming)
		if err != nil {
			return err
		}
		if err := e.UpdateRole(args[0], child); err != nil {
			return err
		}
		return commitDelegation(e)
	},
}

var delegAddKeyCmd = &cobra.Command{
	Use:   "add-key",
	Short: "Add a key's authority over --role (top-level or a delegate of --signing-role)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if delegChildRole == "" {
			return errUsage("--role is required")
		}
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		keys, err := parseKeys(delegKeys)
		if err != nil {
			return err
		}
		for _, k := range keys {
			pub, err := k.PublicKey()
			if err != nil {
				return err
			}
			if err := e.AddKey(pub, delegChildRole); err != nil {
				return err
			}
		}
		return commitDelegation(e)
	},
}

var delegRemoveKeyCmd = &cobra.Command{
	Use:   "remove-key",
	Short: "Remove a key's authority over --role",
	RunE: func(cmd *cobra.Command, args []string) error {
		if delegChildRole == "" || delegKeyID == "" {
			return errUsage("--role and --keyid are required")
		}
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		if err := e.RemoveKey(delegKeyID, delegChildRole); err != nil {
			return err
		}
		return commitDelegation(e)
	},
}

var delegRemoveRoleCmd = &cobra.Command{
	Use:   "remove-role <name>",
	Short: "Remove a delegation from --signing-role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openDelegationEditor()
		if err != nil {
			return err
		}
		if err := e.RemoveRole(args[0], delegRecursive); err != nil {
			return err
		}
		return commitDelegation(e)
	},
}

func init() {
	for _, c := range []*cobra.Command{delegCreateRoleCmd, delegAddRoleCmd} {
		c.Flags().StringArrayVar(&delegKeys, "key", nil, "delegate's authorized key source (repeatable)")
		c.Flags().IntVar(&delegThreshold, "threshold", 1, "delegate's signature threshold")
		c.Flags().StringArrayVar(&delegPaths, "path", nil, "authorized path glob (repeatable; mutually exclusive with --path-hash-prefix)")
		c.Flags().StringArrayVar(&delegPathHashes, "path-hash-prefix", nil, "authorized path-hash prefix (repeatable)")
		c.Flags().BoolVar(&delegTerminating, "terminating", false, "mark the delegation terminating")
	}
	delegAddRoleCmd.Flags().StringVar(&delegIncoming, "incoming-metadata", "", "path to the pre-signed child metadata")
	delegUpdateDelegatedTargetsCmd.Flags().StringVar(&delegIncoming, "incoming-metadata", "", "path to the replacement child metadata")
	delegAddKeyCmd.Flags().StringArrayVar(&delegKeys, "key", nil, "key source to add (repeatable)")
	delegAddKeyCmd.Flags().StringVar(&delegChildRole, "role", "", "role to grant the key to")
	delegRemoveKeyCmd.Flags().StringVar(&delegChildRole, "role", "", "role to revoke the key from")
	delegRemoveKeyCmd.Flags().StringVar(&delegKeyID, "keyid", "", "keyid to remove")
	delegRemoveRoleCmd.Flags().BoolVar(&delegRecursive, "recursive", false, "also remove descendants already loaded in the repository")
}
