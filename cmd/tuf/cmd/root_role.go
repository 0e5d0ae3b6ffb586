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
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trustedupdates/tufcore/metadata"
	"github.com/trustedupdates/tufcore/metadata/editor"
)

var rootFile string

var rootRoleCmd = &cobra.Command{
	Use:   "root",
	Short: "Manage the root role",
}

func init() {
	rootRoleCmd.PersistentFlags().StringVar(&rootFile, "root", "root.json", "path to root.json")
	rootRoleCmd.AddCommand(rootInitCmd, rootExpireCmd, rootSetThresholdCmd, rootGenRSAKeyCmd,
		rootAddKeyCmd, rootRemoveKeyCmd, rootSignCmd, rootCrossSignCmd)
	rootCmd.AddCommand(rootRoleCmd)
}

func loadOrCreateRoot() (*metadata.Metadata[metadata.RootType], error) {
	if _, err := os.Stat(rootFile); err == nil {
		return new(metadata.Metadata[metadata.RootType]).FromFile(rootFile)
	}
	return metadata.Root(), nil
}

func loadRoot() (*metadata.Metadata[metadata.RootType], error) {
	if _, err := os.Stat(rootFile); err != nil {
		return nil, errUsage("no root metadata at %s: run `tuf root init` first", rootFile)
	}
	return new(metadata.Metadata[metadata.RootType]).FromFile(rootFile)
}

func editorFor(root *metadata.Metadata[metadata.RootType]) *editor.RepositoryEditor {
	return editor.New(root)
}

var rootInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a fresh root.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(rootFile); err == nil {
			return errUsage("%s already exists", rootFile)
		}
		root := metadata.Root()
		return root.ToFile(rootFile, true)
	},
}

var rootExpireCmd = &cobra.Command{
	Use:   "expire <expires>",
	Short: "Set the root role's expiration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadRoot()
		if err != nil {
			return err
		}
		expires, err := parseExpires(args[0])
		if err != nil {
			return err
		}
		root.Signed.Expires = expires
		return root.ToFile(rootFile, true)
	},
}

var rootThreshold int

var rootSetThresholdCmd = &cobra.Command{
	Use:   "set-threshold <role>",
	Short: "Set a top-level role's signature threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadRoot()
		if err != nil {
			return err
		}
		role, ok := root.Signed.Roles[args[0]]
		if !ok {
			return errUsage("unknown role %q", args[0])
		}
		if rootThreshold < 1 {
			return errUsage("--threshold must be >= 1")
		}
		role.Threshold = rootThreshold
		return root.ToFile(rootFile, true)
	},
}

func init() {
	rootSetThresholdCmd.Flags().IntVar(&rootThreshold, "threshold", 1, "new signature threshold")
}

var rsaKeyOut string
var rsaKeyBits int

var rootGenRSAKeyCmd = &cobra.Command{
	Use:   "gen-rsa-key",
	Short: "Generate an RSA-PSS signing key and write it as PEM",
	RunE: func(cmd *cobra.Command, args []string) error {
		if rsaKeyOut == "" {
			return errUsage("--out is required")
		}
		priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return err
		}
		der, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return err
		}
		block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
		f, err := os.OpenFile(rsaKeyOut, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := pem.Encode(f, block); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "wrote RSA-%d private key to %s\n", rsaKeyBits, rsaKeyOut)
		return nil
	},
}

func init() {
	rootGenRSAKeyCmd.Flags().StringVar(&rsaKeyOut, "out", "", "output PEM file")
	rootGenRSAKeyCmd.Flags().IntVar(&rsaKeyBits, "bits", 3072, "RSA modulus size in bits")
}

var addKeyRole string
var addKeySources []string

var rootAddKeyCmd = &cobra.Command{
	Use:   "add-key",
	Short: "Add a signing key to a top-level role",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadRoot()
		if err != nil {
			return err
		}
		if addKeyRole == "" {
			return errUsage("--role is required")
		}
		keys, err := parseKeys(addKeySources)
		if err != nil {
			return err
		}
		for _, k := range keys {
			pub, err := k.PublicKey()
			if err != nil {
				return err
			}
			if err := root.Signed.AddKey(pub, addKeyRole); err != nil {
				return err
			}
		}
		return root.ToFile(rootFile, true)
	},
}

func init() {
	rootAddKeyCmd.Flags().StringVar(&addKeyRole, "role", "", "top-level role to add the key to")
	rootAddKeyCmd.Flags().StringArrayVar(&addKeySources, "key", nil, "key source (repeatable)")
}

var removeKeyRole, removeKeyID string

var rootRemoveKeyCmd = &cobra.Command{
	Use:   "remove-key",
	Short: "Remove a signing key from a top-level role",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadRoot()
		if err != nil {
			return err
		}
		if removeKeyRole == "" || removeKeyID == "" {
			return errUsage("--role and --keyid are required")
		}
		if err := root.Signed.RevokeKey(removeKeyID, removeKeyRole); err != nil {
			return err
		}
		return root.ToFile(rootFile, true)
	},
}

func init() {
	rootRemoveKeyCmd.Flags().StringVar(&removeKeyRole, "role", "", "top-level role to remove the key from")
	rootRemoveKeyCmd.Flags().StringVar(&removeKeyID, "keyid", "", "keyid to remove")
}

var signKeySources []string

var rootSignCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign root.json with one or more keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := loadRoot()
		if err != nil {
			return err
		}
		keys, err := parseKeys(signKeySources)
		if err != nil {
			return err
		}
		e := editorFor(root)
		if err := e.Sign(metadata.ROOT, keys); err != nil {
			return err
		}
		return e.Repository().Root().ToFile(rootFile, true)
	},
}

func init() {
	rootSignCmd.Flags().StringArrayVar(&signKeySources, "key", nil, "key source (repeatable)")
}

var crossSignNewRoot string
var crossSignOldKeys, crossSignNewKeys []string

var rootCrossSignCmd = &cobra.Command{
	Use:   "cross-sign",
	Short: "Install a new root.json signed by both the outgoing and incoming root keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		oldRoot, err := loadRoot()
		if err != nil {
			return err
		}
		if crossSignNewRoot == "" {
			return errUsage("--new-root is required")
		}
		newRoot, err := new(metadata.Metadata[metadata.RootType]).FromFile(crossSignNewRoot)
		if err != nil {
			return err
		}
		oldKeys, err := parseKeys(crossSignOldKeys)
		if err != nil {
			return err
		}
		newKeys, err := parseKeys(crossSignNewKeys)
		if err != nil {
			return err
		}
		e := editorFor(oldRoot)
		if err := e.CrossSignRoot(newRoot, oldKeys, newKeys); err != nil {
			return err
		}
		return e.Repository().Root().ToFile(rootFile, true)
	},
}

func init() {
	rootCrossSignCmd.Flags().StringVar(&crossSignNewRoot, "new-root", "", "path to the proposed new root.json")
	rootCrossSignCmd.Flags().StringArrayVar(&crossSignOldKeys, "old-key", nil, "outgoing root key source (repeatable)")
	rootCrossSignCmd.Flags().StringArrayVar(&crossSignNewKeys, "new-key", nil, "incoming root key source (repeatable)")
}
