// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/provision/cmd/provision/cli"
	"github.com/bureau-foundation/provision/registration"
	"github.com/bureau-foundation/provision/server"
)

type registerOptions struct {
	common      commonFlags
	phone       string
	displayName string
	servers     []string
	challenge   string
	brandSize   string
	force       bool
	fallback    bool
	shuffle     bool
	acceptTerms bool
}

func registerCommand() *cli.Command {
	var options registerOptions
	return &cli.Command{
		Name:    "register",
		Summary: "Register a phone number with a server",
		Description: `Register a phone number with a federation server.

Servers are tried in order (from --server, else the configuration)
until one answers. The chosen server then verifies the number out of
band; this command reports how.`,
		Examples: []cli.Example{
			{Description: "Register with the configured servers", Command: "provision register --phone 15551234"},
			{Description: "Ask for a missed-call challenge from one server", Command: "provision register --phone 15551234 --server example.net --challenge missedcall"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("register", pflag.ContinueOnError)
			options.common.register(flagSet)
			flagSet.StringVar(&options.phone, "phone", "", "phone number to register (required)")
			flagSet.StringVar(&options.displayName, "name", "", "display name for the account")
			flagSet.StringSliceVar(&options.servers, "server", nil, "server to try, network|host:port (repeatable)")
			flagSet.StringVar(&options.challenge, "challenge", "", "verification challenge: pin, missedcall or callerid")
			flagSet.StringVar(&options.brandSize, "brand-size", "", "preferred server logo size")
			flagSet.BoolVar(&options.force, "force", false, "re-verify a number the server already knows")
			flagSet.BoolVar(&options.fallback, "fallback", false, "ask for the server's alternate verification path instead of --challenge")
			flagSet.BoolVar(&options.shuffle, "shuffle", false, "try servers in random order")
			flagSet.BoolVar(&options.acceptTerms, "accept-terms", false, "accept the server's terms of service without asking")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if options.phone == "" {
				return fmt.Errorf("--phone is required")
			}
			env, err := openEnvironment(options.common)
			if err != nil {
				return err
			}
			defer env.Close()
			if err := env.startMachine(nil); err != nil {
				return err
			}

			request, err := env.verificationRequest(options)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			return env.register(ctx, request, options.acceptTerms)
		},
	}
}

// verificationRequest builds the request from flags and configuration.
func (env *environment) verificationRequest(options registerOptions) (registration.VerificationRequest, error) {
	entries := options.servers
	if len(entries) == 0 {
		entries = env.config.Servers.List
	}
	if len(entries) == 0 {
		return registration.VerificationRequest{}, fmt.Errorf("no servers: pass --server or set servers.list in the configuration")
	}
	servers := make([]server.Server, 0, len(entries))
	for _, entry := range entries {
		parsed, err := server.Parse(entry)
		if err != nil {
			return registration.VerificationRequest{}, err
		}
		servers = append(servers, parsed)
	}

	var provider server.Provider = server.NewListProvider(servers...)
	if options.shuffle || env.config.Servers.Shuffle {
		provider = server.NewShuffledProvider(servers, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	}

	sizeName := options.brandSize
	if sizeName == "" {
		sizeName = env.config.Registration.BrandImageSize
	}
	brandSize, err := registration.ParseBrandImageSize(sizeName)
	if err != nil {
		return registration.VerificationRequest{}, err
	}

	return registration.VerificationRequest{
		Servers:        provider,
		PhoneNumber:    options.phone,
		DisplayName:    options.displayName,
		Force:          options.force,
		Fallback:       options.fallback,
		BrandImageSize: brandSize,
		Challenge:      options.challenge,
	}, nil
}

func (env *environment) register(ctx context.Context, request registration.VerificationRequest, acceptTerms bool) error {
	return env.follow(ctx, request, func(event any) (bool, error) {
		switch e := event.(type) {
		case registration.AcceptTermsRequest:
			return false, env.answerTerms(e, acceptTerms)
		case registration.VerificationRequestedEvent:
			fallback := ""
			if e.CanFallback {
				fallback = "available"
			}
			env.printer.Card("Verification requested",
				cli.Field{Label: "Server", Value: env.machine.State().Server.String()},
				cli.Field{Label: "Sender", Value: e.Sender},
				cli.Field{Label: "Challenge", Value: e.Challenge},
				cli.Field{Label: "Fallback", Value: fallback},
				cli.Field{Label: "Brand", Value: e.BrandLink},
				cli.Field{Label: "Logo", Value: e.BrandImage},
			)
			return true, nil
		case registration.VerificationError:
			return true, e
		case registration.ServerCheckError:
			return true, e
		}
		return false, nil
	})
}
