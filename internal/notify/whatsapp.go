package notify

import (
	"context"
	"fmt"
	"os"

	_ "github.com/lib/pq" // postgres driver for the whatsmeow session store
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// WhatsApp sends events to one chat. The session store lives in the landlord
// database, so pairing survives restarts.
type WhatsApp struct {
	client *whatsmeow.Client
	to     types.JID
}

// NewWhatsApp connects the WhatsApp session. An unpaired device prints a QR
// code to stdout and blocks until it is scanned or the context ends.
func NewWhatsApp(ctx context.Context, databaseURL, jid string) (*WhatsApp, error) {
	to, err := types.ParseJID(jid)
	if err != nil {
		return nil, fmt.Errorf("parse whatsapp jid: %w", err)
	}

	container, err := sqlstore.New(ctx, "postgres", databaseURL, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("whatsapp store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Noop)

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("whatsapp qr channel: %w", err)
		}
		if err := client.Connect(); err != nil {
			return nil, fmt.Errorf("whatsapp connect: %w", err)
		}
		for item := range qrChan {
			if item.Event == "code" {
				fmt.Fprintln(os.Stdout, "scan to pair the landlord notifier:")
				qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
				continue
			}
			if item.Event != "success" {
				client.Disconnect()
				return nil, fmt.Errorf("whatsapp pairing: %s", item.Event)
			}
			break
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("whatsapp connect: %w", err)
	}

	return &WhatsApp{client: client, to: to}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

func (w *WhatsApp) Send(ctx context.Context, ev Event) error {
	msg := &waE2E.Message{Conversation: proto.String(ev.Text)}
	if _, err := w.client.SendMessage(ctx, w.to, msg); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}

func (w *WhatsApp) Close() error {
	w.client.Disconnect()
	return nil
}
