package jmap

import (
	"encoding/json"
	"fmt"
)

// Capability URNs used in requests.
const (
	capCore = "urn:ietf:params:jmap:core"
	capMail = "urn:ietf:params:jmap:mail"
)

// session is the JMAP session resource.
type session struct {
	APIURL          string            `json:"apiUrl"`
	DownloadURL     string            `json:"downloadUrl"`
	UploadURL       string            `json:"uploadUrl"`
	PrimaryAccounts map[string]string `json:"primaryAccounts"`
}

// invocation is one method call or response: [name, arguments, call id].
type invocation struct {
	Name   string
	Args   any
	CallID string
}

func (inv invocation) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{inv.Name, inv.Args, inv.CallID})
}

// response is a decoded method response, arguments left raw.
type response struct {
	Name   string
	Args   json.RawMessage
	CallID string
}

func (r *response) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("method response has %d elements", len(parts))
	}
	if err := json.Unmarshal(parts[0], &r.Name); err != nil {
		return err
	}
	r.Args = parts[1]
	return json.Unmarshal(parts[2], &r.CallID)
}

type request struct {
	Using       []string     `json:"using"`
	MethodCalls []invocation `json:"methodCalls"`
}

type responseBody struct {
	MethodResponses []response `json:"methodResponses"`
}

// methodError is an "error" method response.
type methodError struct {
	Method      string
	Type        string `json:"type"`
	Description string `json:"description"`
}

func (e *methodError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s failed: %s", e.Method, e.Type)
	}
	return fmt.Sprintf("%s failed: %s: %s", e.Method, e.Type, e.Description)
}

type mailboxGetResponse struct {
	List []struct {
		ID       string  `json:"id"`
		Name     string  `json:"name"`
		ParentID *string `json:"parentId"`
	} `json:"list"`
}

type emailQueryResponse struct {
	IDs []string `json:"ids"`
}

type emailGetResponse struct {
	List []struct {
		ID     string `json:"id"`
		BlobID string `json:"blobId"`
	} `json:"list"`
}

type uploadResponse struct {
	BlobID string `json:"blobId"`
}

type setError struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

type emailImportResponse struct {
	Created    map[string]struct{ ID string } `json:"created"`
	NotCreated map[string]setError            `json:"notCreated"`
}
