package cli

import (
	"fmt"
	"math/rand"
)

var idWords = []string{
	"swift", "bright", "clever", "gentle", "mighty", "serene", "bold", "calm",
	"eagle", "river", "mountain", "forest", "ocean", "thunder", "lightning", "breeze",
	"alpha", "beta", "gamma", "delta", "omega", "sigma", "phoenix", "dragon",
}

// generateTunnelID returns a memorable identifier like "swift-river-417".
func generateTunnelID() string {
	return fmt.Sprintf("%s-%s-%d",
		idWords[rand.Intn(len(idWords))],
		idWords[rand.Intn(len(idWords))],
		rand.Intn(1000))
}
