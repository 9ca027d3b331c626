package ews

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/inbucket/mailvault/pkg/fetcher"
)

const (
	nsDiscoverRequest  = "http://schemas.microsoft.com/exchange/autodiscover/outlook/requestschema/2006"
	nsDiscoverResponse = "http://schemas.microsoft.com/exchange/autodiscover/outlook/responseschema/2006a"
)

// errNoEndpoint indicates no autodiscover candidate named an EWS endpoint.
var errNoEndpoint = errors.New("autodiscover found no EWS endpoint")

type discoverRequest struct {
	XMLName xml.Name `xml:"Autodiscover"`
	NS      string   `xml:"xmlns,attr"`
	Request struct {
		Address string `xml:"EMailAddress"`
		Schema  string `xml:"AcceptableResponseSchema"`
	} `xml:"Request"`
}

type discoverResponse struct {
	Protocols []struct {
		Type   string `xml:"Type"`
		EwsURL string `xml:"EwsUrl"`
	} `xml:"Response>Account>Protocol"`
	Error *struct {
		Code    string `xml:"ErrorCode"`
		Message string `xml:"Message"`
	} `xml:"Response>Error"`
}

// discoveryURLs lists the POX autodiscover locations for an address, most specific first.
func discoveryURLs(address string) []string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return nil
	}
	domain := address[at+1:]
	return []string{
		"https://" + domain + "/autodiscover/autodiscover.xml",
		"https://autodiscover." + domain + "/autodiscover/autodiscover.xml",
	}
}

// autodiscover asks each candidate for the EWS URL of the account, preferring the external
// endpoint.
func (f *Fetcher) autodiscover(ctx context.Context) (string, error) {
	req := discoverRequest{NS: nsDiscoverRequest}
	req.Request.Address = f.guard.Account.Address
	req.Request.Schema = nsDiscoverResponse
	payload, err := xml.Marshal(req)
	if err != nil {
		return "", err
	}

	errs := []error{errNoEndpoint}
	for _, candidate := range f.discover {
		url, err := f.discoverAt(ctx, candidate, payload)
		if err == nil {
			return url, nil
		}
		f.logger.Debug().Err(err).Str("url", candidate).Msg("Autodiscover candidate failed")
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

func (f *Fetcher) discoverAt(ctx context.Context, url string, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	fetcher.SetAuth(req, f.guard.Account)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s: HTTP %d", url, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	var dr discoverResponse
	if err := xml.Unmarshal(data, &dr); err != nil {
		return "", &fetcher.BadServerResponseError{Op: "autodiscover", Response: truncate(string(data))}
	}
	if dr.Error != nil {
		return "", fmt.Errorf("%s: %s", dr.Error.Code, dr.Error.Message)
	}
	found := ""
	for _, p := range dr.Protocols {
		if p.EwsURL == "" {
			continue
		}
		if p.Type == "EXPR" {
			return p.EwsURL, nil
		}
		if found == "" {
			found = p.EwsURL
		}
	}
	if found == "" {
		return "", errNoEndpoint
	}
	return found, nil
}
