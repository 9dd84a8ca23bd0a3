package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"videosurveillance/platform/backend/errs"
)

// Client talks to the ZLMediaKit HTTP control API. Every call posts JSON to
// /index/api/<path> with the shared secret; code 0 marks success.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL string, secret string) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: 5 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: 10 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  strings.TrimSpace(secret),
		http: &http.Client{
			Transport: transport,
			Timeout:   10 * time.Second,
		},
	}
}

type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Port int             `json:"port"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

func (c *Client) call(ctx context.Context, path string, params map[string]any) (*apiResponse, error) {
	if params == nil {
		params = make(map[string]any)
	}
	params["secret"] = c.secret
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+strings.TrimLeft(path, "/"), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrMediaServerFailure, path, err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: http %d", errs.ErrMediaServerFailure, path, response.StatusCode)
	}
	var decoded apiResponse
	if err := json.NewDecoder(response.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errs.ErrMediaServerFailure, path, err)
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("%w: %s: code=%d msg=%s", errs.ErrMediaServerFailure, path, decoded.Code, decoded.Msg)
	}
	return &decoded, nil
}

// OpenRtpServer asks the media server for a push-receive endpoint. Passing
// port 0 lets the server allocate one; the allocated port is returned.
func (c *Client) OpenRtpServer(ctx context.Context, streamID string, port int, tcpMode int) (int, error) {
	response, err := c.call(ctx, "openRtpServer", map[string]any{
		"port":      port,
		"tcp_mode":  tcpMode,
		"stream_id": streamID,
	})
	if err != nil {
		return 0, err
	}
	return response.Port, nil
}

func (c *Client) CloseRtpServer(ctx context.Context, streamID string) error {
	_, err := c.call(ctx, "closeRtpServer", map[string]any{
		"stream_id": streamID,
	})
	return err
}

func (c *Client) StartSendRtp(ctx context.Context, app string, stream string, ssrc string, dstURL string, dstPort int, isUDP bool) error {
	udp := 0
	if isUDP {
		udp = 1
	}
	_, err := c.call(ctx, "startSendRtp", map[string]any{
		"vhost":    "__defaultVhost__",
		"app":      app,
		"stream":   stream,
		"ssrc":     ssrc,
		"dst_url":  dstURL,
		"dst_port": dstPort,
		"is_udp":   udp,
	})
	return err
}

func (c *Client) StopSendRtp(ctx context.Context, app string, stream string) error {
	_, err := c.call(ctx, "stopSendRtp", map[string]any{
		"vhost":  "__defaultVhost__",
		"app":    app,
		"stream": stream,
	})
	return err
}

// AddStreamProxy starts a pull proxy for an external source and returns the
// proxy key needed to delete it later.
func (c *Client) AddStreamProxy(ctx context.Context, app string, stream string, sourceURL string) (string, error) {
	response, err := c.call(ctx, "addStreamProxy", map[string]any{
		"vhost":       "__defaultVhost__",
		"app":         app,
		"stream":      stream,
		"url":         sourceURL,
		"enable_rtsp": 1,
		"enable_rtmp": 1,
		"enable_hls":  1,
	})
	if err != nil {
		return "", err
	}
	if response.Key != "" {
		return response.Key, nil
	}
	var data struct {
		Key string `json:"key"`
	}
	if len(response.Data) > 0 {
		_ = json.Unmarshal(response.Data, &data)
	}
	return data.Key, nil
}

func (c *Client) DelStreamProxy(ctx context.Context, key string) error {
	_, err := c.call(ctx, "delStreamProxy", map[string]any{
		"key": key,
	})
	return err
}

func (c *Client) CloseStream(ctx context.Context, app string, stream string) error {
	_, err := c.call(ctx, "close_stream", map[string]any{
		"vhost":  "__defaultVhost__",
		"app":    app,
		"stream": stream,
		"force":  1,
	})
	return err
}

// MediaItem is one entry of getMediaList, trimmed to the fields surfaced by
// the API layer.
type MediaItem struct {
	App        string `json:"app"`
	Stream     string `json:"stream"`
	Schema     string `json:"schema"`
	OriginType int    `json:"originType"`
	ReaderEnum int    `json:"totalReaderCount"`
}

func (c *Client) GetMediaList(ctx context.Context) ([]MediaItem, error) {
	response, err := c.call(ctx, "getMediaList", nil)
	if err != nil {
		return nil, err
	}
	items := make([]MediaItem, 0, 8)
	if len(response.Data) > 0 {
		if err := json.Unmarshal(response.Data, &items); err != nil {
			return nil, fmt.Errorf("%w: getMediaList: %v", errs.ErrMediaServerFailure, err)
		}
	}
	return items, nil
}

func (c *Client) GetServerConfig(ctx context.Context) ([]map[string]any, error) {
	response, err := c.call(ctx, "getServerConfig", nil)
	if err != nil {
		return nil, err
	}
	var configs []map[string]any
	if len(response.Data) > 0 {
		if err := json.Unmarshal(response.Data, &configs); err != nil {
			return nil, fmt.Errorf("%w: getServerConfig: %v", errs.ErrMediaServerFailure, err)
		}
	}
	return configs, nil
}
