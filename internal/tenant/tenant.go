// Package tenant defines the account records that entitle a user to relay
// messages through their own opaque endpoint.
package tenant

import "strings"

// Tenant is one registered account. ID is the immutable row id assigned by
// the store; AppID is the public-facing numeric identity that the app key is
// derived from and can be rotated without touching the row id.
type Tenant struct {
	ID          int64  `db:"id" json:"-"`
	AppID       int64  `db:"app_id" json:"-"`
	GitHubID    int64  `db:"github_id" json:"github_id"`
	GitHubLogin string `db:"github_login" json:"github_login"`
	BlockList   string `db:"block_list" json:"block_list"`
}

// Blocks reports whether the declared sender appears in the tenant's block
// list. The list is comma- and/or newline-delimited; entries are trimmed and
// matched case-insensitively. An empty sender is never blocked.
func (t *Tenant) Blocks(sender string) bool {
	sender = strings.TrimSpace(sender)
	if sender == "" || t.BlockList == "" {
		return false
	}
	entries := strings.FieldsFunc(t.BlockList, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	for _, entry := range entries {
		if strings.EqualFold(strings.TrimSpace(entry), sender) {
			return true
		}
	}
	return false
}

// WeChatApp holds the WeChat Work credentials a tenant registered for
// outbound delivery. Secret is the shared secret used to obtain access
// tokens and is never returned to browsers.
type WeChatApp struct {
	ID       int64  `db:"id" json:"-"`
	TenantID int64  `db:"tenant_id" json:"-"`
	CorpID   string `db:"corp_id" json:"corp_id"`
	AgentID  int64  `db:"agent_id" json:"agent_id"`
	Secret   string `db:"secret" json:"secret,omitempty"`
}
