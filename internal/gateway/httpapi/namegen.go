package httpapi

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

var wordPattern = regexp.MustCompile(`\b\w+\b`)

// Filler words that say nothing about what the project is.
var stopWords = map[string]bool{
	"with": true, "using": true, "create": true, "make": true,
	"build": true, "develop": true,
}

var nameAdjectives = []string{
	"stellar", "cosmic", "quantum", "nexus", "prime", "apex", "zen", "flux",
	"epic", "vivid", "swift", "noble", "crystal", "golden", "silver", "phoenix",
}

var nameSuffixes = []string{
	"hub", "forge", "studio", "lab", "works", "craft", "core", "space",
}

// FancyProjectName derives a memorable project name from the user's
// request: the first meaningful word of the query framed by a random
// adjective and suffix, plus a numeric tail to dodge collisions.
func FancyProjectName(query string) string {
	base := "Project"
	for _, word := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if len(word) > 3 && !stopWords[word] {
			base = capitalize(word)
			break
		}
	}

	adjective := capitalize(nameAdjectives[rand.IntN(len(nameAdjectives))])
	suffix := capitalize(nameSuffixes[rand.IntN(len(nameSuffixes))])
	return adjective + base + suffix + "-" + strconv.Itoa(10+rand.IntN(91))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
