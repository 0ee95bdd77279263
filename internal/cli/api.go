package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mossy-p/livecast/internal/directory"
)

type loginRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName,omitempty"`
}

type loginResponse struct {
	Token string `json:"token"`
}

// login obtains a token for identity from the signaling server.
func login(ctx context.Context, client *http.Client, serverURL, identity, displayName string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: identity, Password: identity, DisplayName: displayName})
	if err != nil {
		return "", err
	}

	endpoint := directory.HTTPBase(serverURL) + "/api/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: server returned %d", resp.StatusCode)
	}

	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return out.Token, nil
}
