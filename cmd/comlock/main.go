// main.go - ComLock command line tool.
// Copyright (C) 2025  The ComLock Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/qrterminal"
	"github.com/spf13/cobra"

	"github.com/ElMoorish/ComLock/contact"
	"github.com/ElMoorish/ComLock/crypto"
	"github.com/ElMoorish/ComLock/handshake"
	"github.com/ElMoorish/ComLock/sphinx"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "comlock",
		Short: "ComLock quantum-resistant messaging tool",
		Long:  "Inspect and exercise the ComLock protocol core: identities, invites, QR payloads, and the packet geometry.",
	}
	rootCmd.AddCommand(identityCmd(), inviteCmd(), qrCmd(), geometryCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newIdentity() (*crypto.Suite, *handshake.Identity, *handshake.PrekeyState, error) {
	suite := crypto.NewSuite(rand.Reader)
	id, err := handshake.NewIdentity(suite)
	if err != nil {
		return nil, nil, nil, err
	}
	state, err := handshake.NewPrekeyState(suite, id, true)
	if err != nil {
		return nil, nil, nil, err
	}
	return suite, id, state, nil
}

func identityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Generate a fresh identity and prekey bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, state, err := newIdentity()
			if err != nil {
				return err
			}
			bundleBlob, err := state.Bundle().Marshal()
			if err != nil {
				return err
			}
			fmt.Printf("identity: %s\n", base64.StdEncoding.EncodeToString(id.SigningPublicBytes()))
			fmt.Printf("bundle: %s\n", base64.StdEncoding.EncodeToString(bundleBlob))
			return nil
		},
	}
}

func inviteCmd() *cobra.Command {
	var ttl string
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Generate a one-time invite blob",
		RunE: func(cmd *cobra.Command, args []string) error {
			var d time.Duration
			switch strings.ToLower(ttl) {
			case "1h", "hour":
				d = contact.InviteTTLHour
			case "24h", "day":
				d = contact.InviteTTLDay
			case "7d", "week":
				d = contact.InviteTTLWeek
			default:
				return fmt.Errorf("invalid ttl %q: want 1h, 24h or 7d", ttl)
			}

			suite, id, state, err := newIdentity()
			if err != nil {
				return err
			}
			encoded, err := contact.NewInvite(suite.Rand, id, state.Bundle(), d, time.Now())
			if err != nil {
				return err
			}
			fmt.Println(encoded)
			return nil
		},
	}
	cmd.Flags().StringVar(&ttl, "ttl", "24h", "invite lifetime: 1h, 24h or 7d")
	return cmd
}

func qrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "qr",
		Short: "Render a key exchange QR payload to the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, id, state, err := newIdentity()
			if err != nil {
				return err
			}
			payload, err := contact.NewQRPayload(id, state.Bundle())
			if err != nil {
				return err
			}
			config := qrterminal.Config{
				Level:      qrterminal.L,
				Writer:     os.Stdout,
				HalfBlocks: true,
				QuietZone:  1,
			}
			qrterminal.GenerateWithConfig(payload, config)
			return nil
		},
	}
}

func geometryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "geometry",
		Short: "Print the fixed Sphinx packet geometry",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("%s", sphinx.DefaultGeometry())
			return nil
		},
	}
}
