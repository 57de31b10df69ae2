package generator

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	defaultSystemPrompt = `You are the social media editor of the brand described in "product".
Write one post for every entry of "posts", respecting its platform, kind and theme.
Reels and TikTok posts get a short hook and a caption for a vertical video; telegram and threads posts are plain text.
Keep the tone warm and human, avoid clichés and do not invent facts about the product.
Answer with a single JSON object that follows "responseShape" exactly, keeping every "index" from the request.`

	defaultBrandDescription = "Pomni is a Telegram bot for emotional support and journaling."
)

// Profile holds the prompt texts used for every request
type Profile struct {
	SystemPrompt     string `toml:"system_prompt"`
	BrandDescription string `toml:"brand_description"`
}

// DefaultProfile returns the built-in prompt profile
func DefaultProfile() Profile {
	return Profile{
		SystemPrompt:     defaultSystemPrompt,
		BrandDescription: defaultBrandDescription,
	}
}

// LoadProfile reads a TOML prompt profile. An empty path yields the defaults;
// keys missing from the file keep their default values.
func LoadProfile(path string) (Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	meta, err := toml.DecodeFile(path, &profile)
	if err != nil {
		return Profile{}, fmt.Errorf("failed to decode prompt profile %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Profile{}, fmt.Errorf("unknown keys in prompt profile %s: %s", path, strings.Join(keys, ", "))
	}

	return profile.withDefaults(), nil
}

func (p Profile) withDefaults() Profile {
	def := DefaultProfile()
	if strings.TrimSpace(p.SystemPrompt) == "" {
		p.SystemPrompt = def.SystemPrompt
	}
	if strings.TrimSpace(p.BrandDescription) == "" {
		p.BrandDescription = def.BrandDescription
	}
	return p
}
