package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"
)

// FetchICEServers asks the relay deployment for its ICE bootstrap, including
// any short-lived TURN credential. The result goes straight into
// Config.ICEServers; callers should fetch shortly before Connect since TURN
// credentials expire.
func FetchICEServers(ctx context.Context, relayURL string) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayURL+"/ice", nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("peer: fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer: fetch ice servers: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls"`
			Username   string   `json:"username"`
			Credential string   `json:"credential"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("peer: decode ice servers: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(body.ICEServers))
	for _, s := range body.ICEServers {
		srv := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		servers = append(servers, srv)
	}
	return servers, nil
}
