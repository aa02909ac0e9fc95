package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/medledger/record-vault-backend/api/clients"
	"github.com/medledger/record-vault-backend/cmd/flags"
	"github.com/medledger/record-vault-backend/interfaces"
)

var recordIDFlag = &cli.StringFlag{
	Name:     "record",
	Required: true,
	Usage:    "record ID. 64-char hex string",
}

var reasonFlag = &cli.StringFlag{
	Name:  "reason",
	Usage: "reason recorded on the ledger for this operation",
}

func main() {
	app := &cli.App{
		Name:  "vaultctl",
		Usage: "Interact with the record vault API",
		Flags: []cli.Flag{
			flags.ServerAddrFlag,
			flags.IdentityFlag,
			flags.CapabilitiesFlag,
		},
		Commands: []*cli.Command{
			{
				Name:  "session",
				Usage: "open a signing session and print the issued identity",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:  "ttl-seconds",
						Value: 3600,
						Usage: "requested session lifetime",
					},
				},
				Action: func(cCtx *cli.Context) error {
					client := newClient(cCtx)
					resp, err := client.OpenSession(cCtx.Context, time.Duration(cCtx.Int64("ttl-seconds"))*time.Second)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "process",
				Usage: "seal and upload a record to the caller's own stream",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "path to the plaintext payload; stdin if omitted",
					},
					&cli.StringFlag{
						Name:  "record-type",
						Value: string(interfaces.RecordTypeClinicalNote),
						Usage: "record classification: clinical_note, lab_result, imaging or prescription",
					},
				},
				Action: func(cCtx *cli.Context) error {
					payload, err := readPayload(cCtx.String("file"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.ProcessRecord(cCtx.Context, payload, interfaces.RecordType(cCtx.String("record-type")))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "retrieve",
				Usage: "retrieve and decrypt the latest payload of a record",
				Flags: []cli.Flag{
					recordIDFlag,
					&cli.StringFlag{
						Name:  "out",
						Usage: "write the payload to this path; stdout if omitted",
					},
				},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.RetrieveRecord(cCtx.Context, recordID)
					if err != nil {
						return err
					}

					if out := cCtx.String("out"); out != "" {
						return os.WriteFile(out, resp.Payload, 0o600)
					}
					_, err = os.Stdout.Write(resp.Payload)
					return err
				},
			},
			{
				Name:  "request-access",
				Usage: "petition for access to another patient's record",
				Flags: []cli.Flag{
					recordIDFlag,
					reasonFlag,
					&cli.StringFlag{
						Name:  "level",
						Value: string(interfaces.AccessReadOnly),
						Usage: "requested access level: read_only or read_append",
					},
				},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.RequestAccess(cCtx.Context, recordID, cCtx.String("reason"), interfaces.AccessLevel(cCtx.String("level")))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "grant",
				Usage: "approve a pending access request on the caller's record",
				Flags: []cli.Flag{recordIDFlag, requiredID("request")},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.GrantAccess(cCtx.Context, recordID, cCtx.String("request"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "deny",
				Usage: "deny a pending access request on the caller's record",
				Flags: []cli.Flag{recordIDFlag, requiredID("request")},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}
					return newClient(cCtx).DenyAccess(cCtx.Context, recordID, cCtx.String("request"))
				},
			},
			{
				Name:  "revoke",
				Usage: "deactivate a granted permission",
				Flags: []cli.Flag{recordIDFlag, requiredID("permission")},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}
					return newClient(cCtx).RevokeAccess(cCtx.Context, recordID, cCtx.String("permission"))
				},
			},
			{
				Name:  "emergency",
				Usage: "invoke master-capability emergency access",
				Flags: []cli.Flag{recordIDFlag, reasonFlag},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.EmergencyAccess(cCtx.Context, recordID, cCtx.String("reason"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "revoke-emergency",
				Usage: "deactivate an emergency grant on the caller's record",
				Flags: []cli.Flag{recordIDFlag, requiredID("grant")},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}
					return newClient(cCtx).RevokeEmergency(cCtx.Context, recordID, cCtx.String("grant"))
				},
			},
			{
				Name:  "audit",
				Usage: "print a record's audit trail",
				Flags: []cli.Flag{
					recordIDFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "maximum number of events to return",
					},
				},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					client := newClient(cCtx)
					resp, err := client.AuditTrail(cCtx.Context, recordID, cCtx.Int("limit"))
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
			{
				Name:  "compliance-report",
				Usage: "print a windowed compliance report for a record",
				Flags: []cli.Flag{
					recordIDFlag,
					&cli.TimestampFlag{
						Name:   "start",
						Layout: time.RFC3339,
						Usage:  "window start (RFC3339); unbounded if omitted",
					},
					&cli.TimestampFlag{
						Name:   "end",
						Layout: time.RFC3339,
						Usage:  "window end (RFC3339); unbounded if omitted",
					},
				},
				Action: func(cCtx *cli.Context) error {
					recordID, err := interfaces.NewRecordIDFromHex(cCtx.String("record"))
					if err != nil {
						return err
					}

					var start, end time.Time
					if ts := cCtx.Timestamp("start"); ts != nil {
						start = *ts
					}
					if ts := cCtx.Timestamp("end"); ts != nil {
						end = *ts
					}

					client := newClient(cCtx)
					resp, err := client.ComplianceReport(cCtx.Context, recordID, start, end)
					if err != nil {
						return err
					}
					return printJSON(resp)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func requiredID(name string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:     name,
		Required: true,
		Usage:    name + " ID",
	}
}

func newClient(cCtx *cli.Context) *clients.VaultClient {
	client := &clients.VaultClient{
		ServerAddr: cCtx.String(flags.ServerAddrFlag.Name),
	}

	if raw := cCtx.String(flags.IdentityFlag.Name); raw != "" {
		identity, err := interfaces.NewPrincipalIDFromHex(raw)
		if err != nil {
			log.Fatalf("invalid identity: %v", err)
		}
		client.Identity = identity
	}

	if raw := cCtx.String(flags.CapabilitiesFlag.Name); raw != "" {
		client.Capabilities = strings.Split(raw, ",")
	}

	return client
}

func readPayload(path string) ([]byte, error) {
	if path == "" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read payload: %w", err)
	}
	return data, nil
}

func printJSON(v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
