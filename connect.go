package imapsn

import (
	"fmt"
	"strings"

	"github.com/opd-ai/imapsn/config"
	"github.com/opd-ai/imapsn/document"
	"github.com/opd-ai/imapsn/mail"
)

// Connect opens a session for a configured account. The account's folders
// live in the bolt database at cfg.StorePath, named "<email-id>/<folder>",
// so several accounts can share one file. With the local transport, mail is
// delivered straight into the recipient's new-message folder in that file.
//
// options may be nil; its Account, State, Inbox and Transport are replaced.
func Connect(cfg *config.Account, options *Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if options == nil {
		options = NewOptions()
	}

	db, err := document.Open(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	s, err := connect(db, cfg, options)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.closers = append(s.closers, db.Close)
	return s, nil
}

func connect(db *document.DB, cfg *config.Account, options *Options) (*Session, error) {
	state, err := db.Folder(FolderName(cfg.EmailID, cfg.IMAPSNFolder))
	if err != nil {
		return nil, err
	}
	inbox, err := db.Folder(FolderName(cfg.EmailID, cfg.NewMessageFolder))
	if err != nil {
		return nil, err
	}

	var transport mail.Transport
	switch cfg.Transport {
	case config.TransportSMTP:
		transport = mail.NewSMTPTransport(cfg.SMTP, cfg.SendRate)
	case config.TransportLocal:
		local := mail.NewLocalDelivery()
		folder := cfg.NewMessageFolder
		local.SetResolver(func(address string) (document.Mailbox, error) {
			return db.Folder(FolderName(address, folder))
		})
		transport = local
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", config.ErrConfig, cfg.Transport)
	}

	options.Account = *cfg
	options.State = state
	options.Inbox = inbox
	options.Transport = transport
	return Open(options)
}

// FolderName returns the bolt bucket name of an account's folder.
func FolderName(email, folder string) string {
	return strings.ToLower(email) + "/" + folder
}
