package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/beevik/etree"
	"github.com/campuspay/payment-service/internal/config"
	"github.com/campuspay/payment-service/internal/models"
	"github.com/sirupsen/logrus"
)

// Client handles integration with the academic-registration platform. The
// platform exposes an XML lookup endpoint; a student is valid when the lookup
// returns an active record for the link id.
type Client struct {
	url    string
	client *http.Client
	log    *logrus.Logger
}

// NewClient initializes a new registry client
func NewClient(cfg *config.Config, log *logrus.Logger) *Client {
	return &Client{
		url: cfg.RegistryURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		log: log,
	}
}

// buildLookupRequest creates an XML lookup request for a link id
func (c *Client) buildLookupRequest(linkID string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
		<StudentLookup>
			<LinkID>%s</LinkID>
		</StudentLookup>`, linkID)
}

// sendRequest posts the lookup request to the registry
func (c *Client) sendRequest(ctx context.Context, lookupRequest string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewBufferString(lookupRequest))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/xml; charset=utf-8")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %v", err)
	}

	c.log.Debugf("registry XML response: %s", string(body))

	return body, nil
}

// parseXMLResponse checks the lookup response for an active student record
func (c *Client) parseXMLResponse(rawBody []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(rawBody); err != nil {
		return fmt.Errorf("failed to parse XML: %v", err)
	}

	student := doc.FindElement("//Student")
	if student == nil {
		return models.ErrUnknownLinkID
	}

	active := student.FindElement("./Active")
	if active == nil || active.Text() != "true" {
		return models.ErrUnknownLinkID
	}

	return nil
}

// VerifyStudent checks that the link id refers to an active student in the
// upstream registration platform.
func (c *Client) VerifyStudent(ctx context.Context, linkID string) error {
	lookupRequest := c.buildLookupRequest(linkID)
	body, err := c.sendRequest(ctx, lookupRequest)
	if err != nil {
		return err
	}

	if err := c.parseXMLResponse(body); err != nil {
		return err
	}

	c.log.Infof("registry verified link id %s", linkID)
	return nil
}
