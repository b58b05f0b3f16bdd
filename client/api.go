package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strconv"
	"time"

	"github.com/quietpages/quietpages/types"
)

// RoomAPI talks to the server's HTTP interface for one room. It implements
// Store for the engine and opens the live event stream for the supervisor.
type RoomAPI struct {
	BaseURL    string
	RoomId     string
	Token      string
	HTTPClient *http.Client
}

func NewRoomAPI(baseURL, roomId, token string) *RoomAPI {
	return &RoomAPI{
		BaseURL:    baseURL,
		RoomId:     roomId,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *RoomAPI) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := ioutil.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, raw)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (a *RoomAPI) SendMessage(ctx context.Context, msg *types.Message) error {
	payload := map[string]interface{}{
		"id":        msg.Id,
		"content":   msg.Content,
		"imageUrl":  msg.ImageUrl,
		"timestamp": msg.Timestamp.Format(time.RFC3339Nano),
	}
	return a.do(ctx, http.MethodPost, "/api/chat/"+a.RoomId, payload, nil)
}

func (a *RoomAPI) FetchMessages(ctx context.Context) ([]*types.Message, error) {
	out := types.MessagesResponse{}
	err := a.do(ctx, http.MethodGet, "/api/chat/"+a.RoomId, nil, &out)
	return out.Messages, err
}

func (a *RoomAPI) FetchMessagesSince(ctx context.Context, since time.Time) ([]*types.Message, error) {
	out := types.MessagesResponse{}
	ms := since.UnixNano() / int64(time.Millisecond)
	err := a.do(ctx, http.MethodGet, "/api/chat/"+a.RoomId+"?since="+strconv.FormatInt(ms, 10), nil, &out)
	return out.Messages, err
}

func (a *RoomAPI) DeleteMessage(ctx context.Context, messageId string) error {
	return a.do(ctx, http.MethodDelete, "/api/chat/"+a.RoomId+"/messages/"+messageId, nil, nil)
}

func (a *RoomAPI) ClearRoom(ctx context.Context) error {
	return a.do(ctx, http.MethodDelete, "/api/chat/"+a.RoomId+"/messages/clear", nil, nil)
}

func (a *RoomAPI) SetTyping(ctx context.Context, userId string, isTyping bool) error {
	payload := map[string]interface{}{"userId": userId, "isTyping": isTyping}
	return a.do(ctx, http.MethodPost, "/api/chat/"+a.RoomId+"/typing", payload, nil)
}

func (a *RoomAPI) FetchTyping(ctx context.Context, userId string) (*types.TypingResponse, error) {
	out := types.TypingResponse{}
	err := a.do(ctx, http.MethodGet, "/api/chat/"+a.RoomId+"/typing?userId="+userId, nil, &out)
	return &out, err
}

// OpenEvents opens the live event stream. The caller owns the returned body
// and must close it to release the server-side channel.
func (a *RoomAPI) OpenEvents(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.BaseURL+"/api/chat/"+a.RoomId+"/events", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.Token)
	req.Header.Set("Accept", "text/event-stream")
	// no client timeout here, the stream is long-lived
	httpClient := &http.Client{}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("events stream: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
