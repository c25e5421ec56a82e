// Package provider wraps the slice of the WhatsApp gateway HTTP API the
// ingestion pipeline consumes: profile pictures and media payloads.
package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
	"github.com/vincent-petithory/dataurl"
)

// Client talks to the gateway REST API.
type Client struct {
	httpClient *resty.Client
}

// NewClient builds a gateway client. The timeout is deliberately tight: the
// inbound webhook caller expects a prompt acknowledgement and a slow media
// fetch must not hold the whole delivery hostage.
func NewClient(baseURL, apiKey string) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("provider baseURL cannot be empty")
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetHeader("apikey", apiKey).
		SetTimeout(5 * time.Second)

	log.Info().Str("baseURL", baseURL).Msg("Provider client configured")
	return &Client{httpClient: httpClient}, nil
}

type profilePictureResponse struct {
	ProfilePictureURL string `json:"profilePictureUrl"`
}

// ProfilePictureURL fetches the (time-limited) avatar URL for a phone number.
func (c *Client) ProfilePictureURL(ctx context.Context, instance, number string) (string, error) {
	var result profilePictureResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]string{"number": number}).
		SetResult(&result).
		Post(fmt.Sprintf("/chat/fetchProfilePictureUrl/%s", instance))
	if err != nil {
		return "", fmt.Errorf("profile picture request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("profile picture request error: status %s", resp.Status())
	}
	return result.ProfilePictureURL, nil
}

type mediaResponse struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
}

// MediaBase64 fetches a media payload by provider message reference and
// decodes it. Providers answer with either a bare base64 body or a data URL.
func (c *Client) MediaBase64(ctx context.Context, instance, messageID string) ([]byte, string, error) {
	var result mediaResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"message":      map[string]interface{}{"key": map[string]string{"id": messageID}},
			"convertToMp4": false,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/chat/getBase64FromMediaMessage/%s", instance))
	if err != nil {
		return nil, "", fmt.Errorf("media request failed: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("media request error: status %s", resp.Status())
	}
	if result.Base64 == "" {
		return nil, "", fmt.Errorf("media response carried no payload")
	}

	if strings.HasPrefix(result.Base64, "data:") {
		du, err := dataurl.DecodeString(result.Base64)
		if err != nil {
			return nil, "", fmt.Errorf("failed to decode media data URL: %w", err)
		}
		mimeType := result.Mimetype
		if mimeType == "" {
			mimeType = du.ContentType()
		}
		return du.Data, mimeType, nil
	}

	data, err := base64.StdEncoding.DecodeString(result.Base64)
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode media base64: %w", err)
	}
	return data, result.Mimetype, nil
}

// Download retrieves raw bytes from an absolute URL (avatar fetch).
func (c *Client) Download(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := c.httpClient.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("download failed: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("download error: status %s", resp.Status())
	}
	return resp.Body(), resp.Header().Get("Content-Type"), nil
}
