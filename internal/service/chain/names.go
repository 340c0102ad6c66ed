package chain

import (
	"fmt"
	"math/rand/v2"
	"strings"

	"golang.org/x/crypto/sha3"
)

// BasenameSuffix is the parent domain agent names are registered under.
const BasenameSuffix = "basetest.eth"

var adjectives = []string{
	"brave", "curious", "mighty", "fierce", "clever",
	"gentle", "proud", "quick", "wise", "bold",
}

var nouns = []string{
	"eagle", "tiger", "shark", "falcon", "lion",
	"wolf", "bear", "panther", "otter", "dragon",
}

// NameGenerator picks random adjective/noun pairs.
type NameGenerator struct {
	pick func(n int) int
}

// NewNameGenerator uses pick to choose list indexes; nil uses math/rand.
func NewNameGenerator(pick func(n int) int) NameGenerator {
	if pick == nil {
		pick = rand.IntN
	}
	return NameGenerator{pick: pick}
}

// Generate returns a full name such as "bold-dragon-agent.basetest.eth".
func (g NameGenerator) Generate() string {
	pick := g.pick
	if pick == nil {
		pick = rand.IntN
	}
	return AgentName(adjectives[pick(len(adjectives))], nouns[pick(len(nouns))])
}

// AgentName formats the registered name for an adjective/noun pair.
func AgentName(adjective, noun string) string {
	return fmt.Sprintf("%s-%s-agent.%s", adjective, noun, BasenameSuffix)
}

// Label strips the parent domain, leaving the label the registrar expects.
func Label(name string) string {
	return strings.TrimSuffix(name, "."+BasenameSuffix)
}

// Normalize lowercases and trims a name. Generated names are plain ASCII so
// this covers the inputs the bot produces.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Namehash computes the ENS node of name.
func Namehash(name string) [32]byte {
	var node [32]byte
	name = Normalize(name)
	if name == "" {
		return node
	}

	labels := strings.Split(name, ".")
	for i := len(labels) - 1; i >= 0; i-- {
		labelHash := keccak256([]byte(labels[i]))
		copy(node[:], keccak256(node[:], labelHash))
	}
	return node
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}
