// Package streamurl turns the many ways people paste a live channel (console
// links, ARNs, playback hosts, bare manifests) into one playable address.
package streamurl

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultRegion is used for console links that carry no region query.
const DefaultRegion = "us-west-2"

// DefaultSuffix is appended to channel hosts that lack a manifest path.
const DefaultSuffix = "stream.m3u8"

type Rule string

const (
	RuleEmpty        Rule = "empty"
	RuleDirect       Rule = "direct"
	RuleLiveVideo    Rule = "live_video"
	RulePlaybackHost Rule = "playback_host"
	RuleConsole      Rule = "console"
	RuleARN          Rule = "arn"
	RuleBareManifest Rule = "bare_manifest"
	RuleGuessed      Rule = "guessed"
	RulePassthrough  Rule = "passthrough"
)

var (
	directPattern    = regexp.MustCompile(`(?s)^https://.*\.m3u8(\?.*)?$`)
	liveVideoPattern = regexp.MustCompile(`(?s)^https://.*live-video\.net/.*$`)
	channelPattern   = regexp.MustCompile(`channel/([a-zA-Z0-9]+)`)
	regionPattern    = regexp.MustCompile(`region=([a-z0-9-]+)`)
	arnPattern       = regexp.MustCompile(`arn:aws:ivs:([a-z0-9-]+):[0-9]+:channel/([a-zA-Z0-9]+)`)
)

// Result records which rule of the cascade produced URL.
type Result struct {
	Input string
	URL   string
	Rule  Rule
}

// Normalize returns the canonical playback URL for raw. It never fails; input
// nothing recognizes comes back unchanged.
func Normalize(raw string) string {
	return Resolve(raw).URL
}

// Resolve runs the first-match-wins cascade and reports the matching rule.
// Rules match against the trimmed input; unrecognized input is returned
// exactly as given.
func Resolve(raw string) Result {
	in := strings.TrimSpace(raw)
	res := Result{Input: raw}

	switch {
	case in == "":
		res.Rule = RuleEmpty
	case directPattern.MatchString(in):
		res.URL, res.Rule = in, RuleDirect
	case liveVideoPattern.MatchString(in):
		res.URL, res.Rule = in, RuleLiveVideo
	case strings.Contains(in, "playback.") && strings.Contains(in, "ivs"):
		res.URL, res.Rule = forceHTTPS(in), RulePlaybackHost
	default:
		if url, ok := fromConsole(in); ok {
			res.URL, res.Rule = url, RuleConsole
			return res
		}
		if url, ok := fromARN(in); ok {
			res.URL, res.Rule = url, RuleARN
			return res
		}
		switch {
		case strings.Contains(in, ".m3u8") && !strings.HasPrefix(in, "https://"):
			res.URL, res.Rule = forceHTTPS(in), RuleBareManifest
		case strings.Contains(in, "ivs") && !strings.Contains(in, ".m3u8"):
			res.URL, res.Rule = guess(in), RuleGuessed
		default:
			res.URL, res.Rule = raw, RulePassthrough
		}
	}
	return res
}

// ChannelURL builds the playback manifest address for a channel id.
func ChannelURL(region, channelID string) string {
	return fmt.Sprintf("https://%s.live-video.net/api/video/v1/aws.ivs.%s.channel.%s.m3u8", region, region, channelID)
}

func fromConsole(in string) (string, bool) {
	if !strings.Contains(in, "console.aws.amazon.com/ivs") {
		return "", false
	}
	m := channelPattern.FindStringSubmatch(in)
	if m == nil {
		return "", false
	}
	region := DefaultRegion
	if r := regionPattern.FindStringSubmatch(in); r != nil {
		region = r[1]
	}
	return ChannelURL(region, m[1]), true
}

func fromARN(in string) (string, bool) {
	if !strings.Contains(in, "arn:aws:ivs:") {
		return "", false
	}
	m := arnPattern.FindStringSubmatch(in)
	if m == nil {
		return "", false
	}
	return ChannelURL(m[1], m[2]), true
}

func guess(in string) string {
	if !strings.HasSuffix(in, "/") {
		in += "/"
	}
	return forceHTTPS(in + DefaultSuffix)
}

func forceHTTPS(in string) string {
	if strings.HasPrefix(in, "https://") {
		return in
	}
	return "https://" + strings.TrimPrefix(in, "http://")
}
