// Package outbox implements monitor.Notifier by writing every message into a
// directory per user instead of sending it anywhere.
package outbox

import (
	"context"
	"fmt"
	"labwatch/internal/components/assert"
	"labwatch/internal/components/chrono"
	"labwatch/internal/scrapers/lablaudo"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const timestampFormat = "20060102T150405.000"

type Outbox struct {
	dir  string
	time chrono.API

	// guards seq
	mutex sync.Mutex
	seq   int
}

func New(dir string, time chrono.API) *Outbox {
	assert.NotEmptyStr(dir, "outbox dir")
	assert.NotNil(time, "clock")
	return &Outbox{dir: dir, time: time}
}

// sanitize keeps user ids and file names from escaping their directory.
func sanitize(name string) string {
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

func (o *Outbox) prefix() string {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.seq++
	return fmt.Sprintf("%s-%03d", o.time.Now().UTC().Format(timestampFormat), o.seq)
}

func (o *Outbox) userDir(userID string) (string, error) {
	dir := filepath.Join(o.dir, sanitize(userID))
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return "", fmt.Errorf("create outbox dir: %w", err)
	}
	return dir, nil
}

func (o *Outbox) SendText(ctx context.Context, userID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := o.userDir(userID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, o.prefix()+"-message.txt")
	err = os.WriteFile(path, []byte(text+"\n"), 0600)
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// SendDocument writes the document next to a caption file sharing its prefix.
func (o *Outbox) SendDocument(ctx context.Context, userID string, document lablaudo.Document, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := o.userDir(userID)
	if err != nil {
		return err
	}
	prefix := o.prefix()
	err = os.WriteFile(filepath.Join(dir, prefix+"-"+sanitize(document.Filename)), document.Contents, 0600)
	if err != nil {
		return fmt.Errorf("write document: %w", err)
	}
	err = os.WriteFile(filepath.Join(dir, prefix+"-caption.txt"), []byte(caption+"\n"), 0600)
	if err != nil {
		return fmt.Errorf("write caption: %w", err)
	}
	return nil
}
