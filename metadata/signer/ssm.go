// Copyright 2022-2023 VMware, Inc.
//
// This product is licensed to you under the BSD-2 license (the "License").
// You may not use this product except in compliance with the BSD-2 License.
// This product may include a number of subcomponents with separate copyright
// notices and license terms. Your use of these subcomponents is subject to
// the terms and conditions of the subcomponent's license, as noted in the
// LICENSE file.
//
// SPDX-License-Identifier: BSD-2-Clause

package signer

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/trustedupdates/tufcore/metadata"
)

// SSM is a KeySource backed by a PEM private key stored (optionally
// SecureString-encrypted) as an AWS Systems Manager parameter, grounded on
// tough-ssm's client: it's a GetParameter away from a LocalFile.
type SSM struct {
	ParameterName string
	Profile       string

	client *ssm.Client
	local  *LocalFile
}

var _ KeySource = (*SSM)(nil)

// NewSSM builds an SSM-backed KeySource. Like KMS, the client and parameter
// fetch are both deferred to first use.
func NewSSM(parameterName, profile string) *SSM {
	return &SSM{ParameterName: parameterName, Profile: profile}
}

func (s *SSM) ensureLoaded(ctx context.Context) error {
	if s.local != nil {
		return nil
	}
	if s.client == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if s.Profile != "" {
			opts = append(opts, awsconfig.WithSharedConfigProfile(s.Profile))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return metadata.ErrSigner{Backend: "aws-ssm", Msg: err.Error()}
		}
		s.client = ssm.NewFromConfig(cfg)
	}
	resp, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.ParameterName),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return metadata.ErrSigner{Backend: "aws-ssm", Msg: fmt.Sprintf("GetParameter %s: %s", s.ParameterName, err)}
	}
	if resp.Parameter == nil || resp.Parameter.Value == nil {
		return metadata.ErrSigner{Backend: "aws-ssm", Msg: fmt.Sprintf("parameter %s has no value", s.ParameterName)}
	}
	priv, err := parsePrivateKeyPEM([]byte(*resp.Parameter.Value))
	if err != nil {
		return metadata.ErrSigner{Backend: "aws-ssm", Msg: err.Error()}
	}
	s.local = &LocalFile{Path: s.ParameterName, priv: priv}
	return nil
}

// PublicKey loads the parameter (if not already cached) and returns its
// public half.
func (s *SSM) PublicKey() (*metadata.Key, error) {
	if err := s.ensureLoaded(context.Background()); err != nil {
		return nil, err
	}
	return s.local.PublicKey()
}

// Sign loads the parameter (if not already cached) and signs with it.
func (s *SSM) Sign(ctx context.Context, msg []byte) ([]byte, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.local.Sign(ctx, msg)
}
