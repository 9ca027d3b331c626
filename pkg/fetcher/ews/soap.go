package ews

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	nsSoap     = "http://schemas.xmlsoap.org/soap/envelope/"
	nsTypes    = "http://schemas.microsoft.com/exchange/services/2006/types"
	nsMessages = "http://schemas.microsoft.com/exchange/services/2006/messages"

	serverVersion = "Exchange2013_SP1"
)

// envelope wraps a request body for sending.
type envelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	Soap    string   `xml:"xmlns:soap,attr"`
	Types   string   `xml:"xmlns:t,attr"`
	Msgs    string   `xml:"xmlns:m,attr"`
	Header  struct {
		Version struct {
			Version string `xml:"Version,attr"`
		} `xml:"t:RequestServerVersion"`
	} `xml:"soap:Header"`
	Body struct {
		Content any
	} `xml:"soap:Body"`
}

func newEnvelope(body any) *envelope {
	e := &envelope{Soap: nsSoap, Types: nsTypes, Msgs: nsMessages}
	e.Header.Version.Version = serverVersion
	e.Body.Content = body
	return e
}

type fieldURI struct {
	FieldURI string `xml:"FieldURI,attr"`
}

type constant struct {
	Value string `xml:"Value,attr"`
}

type folderID struct {
	ID string `xml:"Id,attr"`
}

type distinguishedFolderID struct {
	ID string `xml:"Id,attr"`
}

type parentFolderIDs struct {
	Distinguished *distinguishedFolderID `xml:"t:DistinguishedFolderId,omitempty"`
	Folder        *folderID              `xml:"t:FolderId,omitempty"`
}

// comparison is a single field test against a constant.
type comparison struct {
	FieldURI fieldURI `xml:"t:FieldURI"`
	Value    struct {
		Constant constant `xml:"t:Constant"`
	} `xml:"t:FieldURIOrConstant"`
}

type containsExpr struct {
	Mode       string   `xml:"ContainmentMode,attr"`
	Comparison string   `xml:"ContainmentComparison,attr"`
	FieldURI   fieldURI `xml:"t:FieldURI"`
	Constant   constant `xml:"t:Constant"`
}

// restriction is the search filter of a FindItem request.
type restriction struct {
	IsEqualTo              *comparison   `xml:"t:IsEqualTo,omitempty"`
	IsGreaterThanOrEqualTo *comparison   `xml:"t:IsGreaterThanOrEqualTo,omitempty"`
	Contains               *containsExpr `xml:"t:Contains,omitempty"`
}

func compare(field, value string) *comparison {
	c := &comparison{FieldURI: fieldURI{FieldURI: field}}
	c.Value.Constant.Value = value
	return c
}

type getFolderRequest struct {
	XMLName     xml.Name `xml:"m:GetFolder"`
	FolderShape struct {
		BaseShape string `xml:"t:BaseShape"`
	} `xml:"m:FolderShape"`
	FolderIDs parentFolderIDs `xml:"m:FolderIds"`
}

type findFolderRequest struct {
	XMLName     xml.Name `xml:"m:FindFolder"`
	Traversal   string   `xml:"Traversal,attr"`
	FolderShape struct {
		BaseShape  string     `xml:"t:BaseShape"`
		Additional []fieldURI `xml:"t:AdditionalProperties>t:FieldURI"`
	} `xml:"m:FolderShape"`
	Paging struct {
		MaxEntries int    `xml:"MaxEntriesReturned,attr"`
		Offset     int    `xml:"Offset,attr"`
		BasePoint  string `xml:"BasePoint,attr"`
	} `xml:"m:IndexedPageFolderView"`
	Parent parentFolderIDs `xml:"m:ParentFolderIds"`
}

type findItemRequest struct {
	XMLName   xml.Name `xml:"m:FindItem"`
	Traversal string   `xml:"Traversal,attr"`
	ItemShape struct {
		BaseShape string `xml:"t:BaseShape"`
	} `xml:"m:ItemShape"`
	Paging struct {
		MaxEntries int    `xml:"MaxEntriesReturned,attr"`
		Offset     int    `xml:"Offset,attr"`
		BasePoint  string `xml:"BasePoint,attr"`
	} `xml:"m:IndexedPageItemView"`
	Restriction *restriction `xml:"m:Restriction,omitempty"`
	SortOrder   struct {
		Order struct {
			Order    string   `xml:"Order,attr"`
			FieldURI fieldURI `xml:"t:FieldURI"`
		} `xml:"t:FieldOrder"`
	} `xml:"m:SortOrder"`
	Parent parentFolderIDs `xml:"m:ParentFolderIds"`
}

type itemID struct {
	ID string `xml:"Id,attr"`
}

type getItemRequest struct {
	XMLName   xml.Name `xml:"m:GetItem"`
	ItemShape struct {
		BaseShape   string `xml:"t:BaseShape"`
		IncludeMime bool   `xml:"t:IncludeMimeContent"`
	} `xml:"m:ItemShape"`
	ItemIDs []itemID `xml:"m:ItemIds>t:ItemId"`
}

type createItemRequest struct {
	XMLName     xml.Name `xml:"m:CreateItem"`
	Disposition string   `xml:"MessageDisposition,attr"`
	SavedFolder struct {
		Folder folderID `xml:"t:FolderId"`
	} `xml:"m:SavedItemFolderId"`
	Message struct {
		MimeContent string `xml:"t:MimeContent"`
	} `xml:"m:Items>t:Message"`
}

// folderEntry is one folder of a FindFolder or GetFolder response.
type folderEntry struct {
	ID          folderID `xml:"FolderId"`
	Parent      folderID `xml:"ParentFolderId"`
	DisplayName string   `xml:"DisplayName"`
	FolderClass string   `xml:"FolderClass"`
}

// itemEntry is one item of a FindItem or GetItem response, whatever its item type.
type itemEntry struct {
	ID          itemID `xml:"ItemId"`
	MimeContent string `xml:"MimeContent"`
}

// responseMessage carries the outcome common to every EWS operation.
type responseMessage struct {
	Class string `xml:"ResponseClass,attr"`
	Code  string `xml:"ResponseCode"`
	Text  string `xml:"MessageText"`
	Root  struct {
		Last  bool `xml:"IncludesLastItemInRange,attr"`
		Total int  `xml:"TotalItemsInView,attr"`
		// Folders and Items appear under RootFolder in Find responses.
		Folders struct {
			List []folderEntry `xml:",any"`
		} `xml:"Folders"`
		Items struct {
			List []itemEntry `xml:",any"`
		} `xml:"Items"`
	} `xml:"RootFolder"`
	Folders struct {
		List []folderEntry `xml:",any"`
	} `xml:"Folders"`
	Items struct {
		List []itemEntry `xml:",any"`
	} `xml:"Items"`
}

// err converts a non-success response message into an error.
func (r *responseMessage) err(op string) error {
	if strings.EqualFold(r.Class, "Success") {
		return nil
	}
	if r.Class == "" {
		return &responseError{Op: op, Code: "NoResponse", Text: "empty response message"}
	}
	return &responseError{Op: op, Code: r.Code, Text: r.Text}
}

// responseEnvelope decodes any EWS response; element names are matched without namespaces.
type responseEnvelope struct {
	Body struct {
		Fault *struct {
			Code   string `xml:"faultcode"`
			String string `xml:"faultstring"`
		} `xml:"Fault"`
		Response struct {
			Messages struct {
				List []responseMessage `xml:",any"`
			} `xml:"ResponseMessages"`
		} `xml:",any"`
	} `xml:"Body"`
}

// responseError is an error reported inside a well formed EWS response.
type responseError struct {
	Op   string
	Code string
	Text string
}

func (e *responseError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Text)
}

// transient reports whether retrying may succeed.
func (e *responseError) transient() bool {
	switch e.Code {
	case "ErrorServerBusy", "ErrorInternalServerTransientError", "ErrorTimeoutExpired":
		return true
	}
	return false
}
