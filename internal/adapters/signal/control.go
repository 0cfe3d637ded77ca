package signal

import "github.com/rs/zerolog/log"

// handlePing answers an application-level ping from the server.
func (c *Client) handlePing() {
	if err := c.sendJSON(envelope{Type: typePong}); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("pong")
	}
}
