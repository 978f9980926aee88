// Package accounts implements monitor.CredentialStore over a fixed list of accounts,
// such as the ones listed in a config file. Changes only live as long as the store.
package accounts

import (
	"context"
	"errors"
	"labwatch/internal/monitor"
	"sync"
)

var ErrReadOnly = errors.New("accounts: accounts are managed in the config file")

type Static struct {
	mutex    sync.Mutex
	accounts []monitor.Account
	removed  map[string]bool
	statuses map[string]monitor.Status
}

func NewStatic(accounts []monitor.Account) *Static {
	return &Static{
		accounts: accounts,
		removed:  map[string]bool{},
		statuses: map[string]monitor.Status{},
	}
}

// Add always fails, new accounts have to be added to the config file.
func (s *Static) Add(context.Context, string, monitor.Credentials) error {
	return ErrReadOnly
}

// Remove stops monitoring the user for the lifetime of the store.
func (s *Static) Remove(_ context.Context, userID string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.removed[userID] = true
	return nil
}

func (s *Static) Lookup(_ context.Context, userID string) (monitor.Credentials, bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.removed[userID] {
		return monitor.Credentials{}, false, nil
	}
	for _, a := range s.accounts {
		if a.UserID == userID {
			return a.Credentials, true, nil
		}
	}
	return monitor.Credentials{}, false, nil
}

func (s *Static) ListActive(context.Context) ([]monitor.Account, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	var active []monitor.Account
	for _, a := range s.accounts {
		if s.removed[a.UserID] {
			continue
		}
		active = append(active, a)
	}
	return active, nil
}

func (s *Static) UpdateStatus(_ context.Context, userID string, status monitor.Status) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.statuses[userID] = status
	return nil
}

// Status returns the last status set for the user, if any.
func (s *Static) Status(userID string) (monitor.Status, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	status, ok := s.statuses[userID]
	return status, ok
}
