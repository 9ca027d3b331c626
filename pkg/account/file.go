package account

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type fileRoot struct {
	Accounts []fileAccount `yaml:"accounts"`
}

type fileAccount struct {
	ID            string        `yaml:"id"`
	Address       string        `yaml:"address"`
	Password      string        `yaml:"password"`
	Token         string        `yaml:"token"`
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Protocol      string        `yaml:"protocol"`
	Timeout       string        `yaml:"timeout"`
	AllowInsecure bool          `yaml:"allow_insecure"`
	Mailboxes     []fileMailbox `yaml:"mailboxes"`
}

type fileMailbox struct {
	Name            string `yaml:"name"`
	SaveRaw         *bool  `yaml:"save_raw"`
	SaveAttachments *bool  `yaml:"save_attachments"`
	SaveHTML        bool   `yaml:"save_html"`
}

// LoadFile reads the accounts document at path.
func LoadFile(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return Parse(f)
}

// Parse decodes a YAML accounts document.
func Parse(r io.Reader) ([]*Account, error) {
	root := &fileRoot{}
	if err := yaml.NewDecoder(r).Decode(root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	seen := make(map[string]bool, len(root.Accounts))
	accounts := make([]*Account, 0, len(root.Accounts))
	for i, fa := range root.Accounts {
		if fa.ID == "" {
			fa.ID = fa.Address
		}
		if fa.ID == "" {
			return nil, fmt.Errorf("account %d: id or address required", i)
		}
		if seen[fa.ID] {
			return nil, fmt.Errorf("account %q: duplicate id", fa.ID)
		}
		seen[fa.ID] = true

		proto, ok := ParseProtocol(fa.Protocol)
		if !ok {
			return nil, fmt.Errorf("account %q: unknown protocol %q", fa.ID, fa.Protocol)
		}
		// Exchange accounts without a host are located by autodiscover.
		if fa.Host == "" && proto != Exchange {
			return nil, fmt.Errorf("account %q: host required", fa.ID)
		}
		if fa.Host != "" && !validHost(fa.Host) {
			return nil, fmt.Errorf("account %q: invalid host %q", fa.ID, fa.Host)
		}
		if fa.Address != "" {
			if _, _, err := ParseAddress(fa.Address); err != nil {
				return nil, fmt.Errorf("account %q: bad address: %w", fa.ID, err)
			}
		}
		var timeout time.Duration
		if fa.Timeout != "" {
			d, err := time.ParseDuration(fa.Timeout)
			if err != nil {
				return nil, fmt.Errorf("account %q: bad timeout: %w", fa.ID, err)
			}
			timeout = d
		}

		a := &Account{
			ID:            fa.ID,
			Address:       fa.Address,
			Password:      fa.Password,
			Token:         fa.Token,
			Host:          fa.Host,
			Port:          fa.Port,
			Protocol:      proto,
			Timeout:       timeout,
			AllowInsecure: fa.AllowInsecure,
		}
		for _, fm := range fa.Mailboxes {
			if fm.Name == "" {
				return nil, fmt.Errorf("account %q: mailbox name required", fa.ID)
			}
			mb := a.AddMailbox(fm.Name)
			if fm.SaveRaw != nil {
				mb.SaveRaw = *fm.SaveRaw
			}
			if fm.SaveAttachments != nil {
				mb.SaveAttachments = *fm.SaveAttachments
			}
			mb.SaveHTML = fm.SaveHTML
		}
		accounts = append(accounts, a)
	}

	return accounts, nil
}
