package rest

import (
	"net/http"

	"github.com/inbucket/mailvault/pkg/account"
	"github.com/inbucket/mailvault/pkg/rest/model"
	"github.com/inbucket/mailvault/pkg/server/web"
	"github.com/inbucket/mailvault/pkg/storage"
)

// HealthV1 renders the recorded health of every account and mailbox.
func HealthV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	jhealth := make([]*model.JSONHealthV1, 0)
	if ctx.Health == nil {
		return web.RenderJSON(w, jhealth)
	}

	states, err := ctx.Health.Health(req.Context())
	if err != nil {
		return err
	}
	for _, h := range states {
		jhealth = append(jhealth, toJSONHealth(h))
	}
	return web.RenderJSON(w, jhealth)
}

// AccountsV1 renders the configured accounts and their mailboxes.  Recorded health wins over the
// in-memory state, which is lost on restart.
func AccountsV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	recorded := make(map[string]storage.Health)
	if ctx.Health != nil {
		states, err := ctx.Health.Health(req.Context())
		if err != nil {
			return err
		}
		for _, h := range states {
			recorded[h.Scope+":"+h.Key] = h
		}
	}

	jaccounts := make([]*model.JSONAccountV1, 0, len(ctx.Accounts))
	for _, a := range ctx.Accounts {
		ja := &model.JSONAccountV1{
			ID:        a.ID,
			Address:   a.Address,
			Protocol:  string(a.Protocol),
			Server:    a.Addr(),
			Healthy:   a.Health.Healthy(),
			Mailboxes: make([]*model.JSONMailboxV1, 0, len(a.Mailboxes)),
		}
		ja.LastError, _ = a.Health.LastError()
		if h, ok := recorded[storage.ScopeAccount+":"+a.ID]; ok {
			ja.Healthy, ja.LastError = h.Healthy, h.LastError
		}
		for _, mb := range a.Mailboxes {
			jm := &model.JSONMailboxV1{
				Name:            mb.Name,
				Healthy:         mb.Health.Healthy(),
				SaveRaw:         mb.SaveRaw,
				SaveAttachments: mb.SaveAttachments,
				SaveHTML:        mb.SaveHTML,
			}
			jm.LastError, _ = mb.Health.LastError()
			if h, ok := recorded[storage.ScopeMailbox+":"+mb.Key()]; ok {
				jm.Healthy, jm.LastError = h.Healthy, h.LastError
			}
			ja.Mailboxes = append(ja.Mailboxes, jm)
		}
		jaccounts = append(jaccounts, ja)
	}
	return web.RenderJSON(w, jaccounts)
}

func toJSONHealth(h storage.Health) *model.JSONHealthV1 {
	jh := &model.JSONHealthV1{
		Scope:     h.Scope,
		Key:       h.Key,
		Healthy:   h.Healthy,
		LastError: h.LastError,
		UpdatedAt: h.UpdatedAt,
	}
	if !h.LastErrorAt.IsZero() {
		at := h.LastErrorAt
		jh.LastErrorAt = &at
	}
	return jh
}

// lookupMailbox resolves the account and mailbox route variables.
func lookupMailbox(ctx *web.Context) *account.Mailbox {
	acct := ctx.Account(ctx.Vars["account"])
	if acct == nil {
		return nil
	}
	return acct.Mailbox(ctx.Vars["mailbox"])
}
