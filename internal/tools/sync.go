package tools

import (
	"context"
	"fmt"

	"github.com/brandon/mapi-bridge/internal/email"
)

// SyncAccountTool imports IMAP mail into the property store
type SyncAccountTool struct {
	base
	importer *email.Manager
}

// Name returns the tool name
func (t *SyncAccountTool) Name() string {
	return "sync_account"
}

// Description returns the tool description
func (t *SyncAccountTool) Description() string {
	return "Import messages from IMAP into the property store for one account, or all accounts"
}

// InputSchema returns the JSON schema for tool inputs
func (t *SyncAccountTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"account_name": map[string]interface{}{
				"type":        "string",
				"enum":        t.importer.Accounts(),
				"description": "Optional: specific account name, or all accounts if omitted",
			},
			"mailbox": map[string]interface{}{
				"type":        "string",
				"description": "Optional: single mailbox to sync, e.g. INBOX",
			},
		},
	}
}

// Execute imports IMAP mailboxes into the store
func (t *SyncAccountTool) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	name, ok := stringParam(params, "account_name")
	if !ok {
		results, err := t.importer.SyncAll(ctx)
		if err != nil {
			return nil, err
		}
		return results, nil
	}

	mailbox, _ := stringParam(params, "mailbox")
	res, err := t.importer.SyncAccount(ctx, name, mailbox)
	if err != nil {
		return nil, fmt.Errorf("failed to sync account: %w", err)
	}
	t.logger.WithField("account", name).Debug("Sync requested through tool")
	return []email.SyncResult{*res}, nil
}
