package channels

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver for the session store

	appErrors "github.com/magictalent/ai-agent-backend/internal/errors"
)

// WhatsAppDevice sends through a paired WhatsApp Web session. Pairing (QR
// login) happens out of band; an unpaired store is reported as not configured.
type WhatsAppDevice struct {
	Client *whatsmeow.Client

	// store is the session database behind Client.
	store io.Closer
}

// NewWhatsAppDevice opens the session store at dbPath and connects. The
// store is closed again on every error path.
func NewWhatsAppDevice(ctx context.Context, dbPath string) (*WhatsAppDevice, error) {
	dbLog := waLog.Stdout("WhatsAppStore", "WARN", false)
	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", dbLog)
	if err != nil {
		return nil, fmt.Errorf("open whatsapp session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("load whatsapp device: %w", err)
	}
	if deviceStore.ID == nil {
		container.Close()
		return nil, fmt.Errorf("whatsapp session at %s is not paired: %w", dbPath, appErrors.ErrNotConfigured)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Stdout("WhatsApp", "WARN", false))
	if err := client.Connect(); err != nil {
		container.Close()
		return nil, fmt.Errorf("connect whatsapp: %w", err)
	}
	return &WhatsAppDevice{Client: client, store: container}, nil
}

func (w *WhatsAppDevice) Send(ctx context.Context, to, body string) error {
	if w.Client == nil || !w.Client.IsConnected() {
		return fmt.Errorf("whatsapp device: %w", appErrors.ErrNotConfigured)
	}
	number := strings.TrimPrefix(NormalizePhone(to), "+")
	jid, err := types.ParseJID(number + "@" + types.DefaultUserServer)
	if err != nil {
		return fmt.Errorf("invalid number format: %v", err)
	}

	_, err = w.Client.SendMessage(ctx, jid, &waProto.Message{
		Conversation: &body,
	})
	if err != nil {
		return fmt.Errorf("whatsapp send to %s: %w", number, err)
	}
	return nil
}

// Close disconnects the client, then closes the session store.
func (w *WhatsAppDevice) Close() {
	if w.Client != nil {
		w.Client.Disconnect()
	}
	if w.store != nil {
		_ = w.store.Close()
		w.store = nil
	}
}
