// Package notification delivers report emails through the internal email
// gateway: a plain HTTP API that accepts multipart messages with optional
// binary attachments.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Config carries the gateway endpoint and the standing message metadata.
type Config struct {
	APIURL       string
	GatewayToken string
	From         string
	TeamTag      string
	ProductTag   string
}

// Client is the email gateway client. Safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.Named("notification"),
	}
}

// SendAttachment delivers an HTML email carrying one binary attachment.
func (c *Client) SendAttachment(ctx context.Context, to, subject, bodyHTML string, attachment []byte, filename string) error {
	return c.send(ctx, to, subject, bodyHTML, attachment, filename)
}

// SendPlain delivers an HTML email without an attachment.
func (c *Client) SendPlain(ctx context.Context, to, subject, bodyHTML string) error {
	return c.send(ctx, to, subject, bodyHTML, nil, "")
}

func (c *Client) send(ctx context.Context, to, subject, bodyHTML string, attachment []byte, filename string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"from":    c.cfg.From,
		"to":      to,
		"subject": subject,
		"html":    bodyHTML,
		"team":    c.cfg.TeamTag,
		"product": c.cfg.ProductTag,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := mw.WriteField(name, value); err != nil {
			return fmt.Errorf("%w: write field %s: %s", ErrSendFailed, name, err)
		}
	}
	if attachment != nil {
		part, err := mw.CreateFormFile("attachment", filename)
		if err != nil {
			return fmt.Errorf("%w: create attachment part: %s", ErrSendFailed, err)
		}
		if _, err := part.Write(attachment); err != nil {
			return fmt.Errorf("%w: write attachment: %s", ErrSendFailed, err)
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("%w: finalize message: %s", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, &buf)
	if err != nil {
		return fmt.Errorf("%w: build request: %s", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.cfg.GatewayToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.GatewayToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: gateway request failed: %s", ErrSendFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: gateway returned status %d: %s", ErrSendFailed, resp.StatusCode, detail)
	}

	c.logger.Info("email delivered",
		zap.String("to", to),
		zap.String("subject", subject),
		zap.Bool("attachment", attachment != nil),
	)
	return nil
}
