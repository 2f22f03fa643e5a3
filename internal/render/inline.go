package render

import (
	"fmt"
	"html"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/microcosm-cc/bluemonday"

	"github.com/john/chatmux/internal/markup"
)

var (
	classPattern = regexp.MustCompile(`^[A-Za-z0-9_+ -]+$`)
	stylePattern = regexp.MustCompile(`^(color: (#[0-9a-f]{6}|inherit)|background: currentColor|opacity: 0%)$`)
	mediaHosts   = map[string]bool{"cdn.discordapp.com": true, "media.discordapp.net": true}
	videoExts    = map[string]bool{".mp4": true, ".webm": true, ".mov": true}
	imageExts    = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
)

func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("em", "strong", "u", "s", "code", "pre", "br", "span")
	p.AllowAttrs("class").Matching(classPattern).OnElements("code", "span", "a", "img", "video")
	p.AllowAttrs("style").Matching(stylePattern).OnElements("span", "a")
	p.AllowAttrs("href").OnElements("a")
	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowAttrs("src", "controls", "muted").OnElements("video")
	p.AllowAttrs("datetime").OnElements("time")
	p.AllowStandardURLs()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	return p
}

func (r *Renderer) writeLink(b *strings.Builder, v markup.Link, snap markup.EntitySnapshot) error {
	u, err := url.Parse(v.Target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		if len(v.Children) == 0 {
			b.WriteString(html.EscapeString(v.Target))
			return nil
		}
		return r.writeNodes(b, v.Children, snap)
	}

	target := html.EscapeString(u.String())
	if mediaHosts[u.Host] && strings.Contains(u.Path, "attachments/") {
		ext := strings.ToLower(path.Ext(u.Path))
		switch {
		case videoExts[ext]:
			b.WriteString(`<video class="embed" src="` + target + `" controls muted></video>`)
			return nil
		case imageExts[ext]:
			b.WriteString(`<img class="embed" src="` + target + `" alt="` + html.EscapeString(path.Base(u.Path)) + `">`)
			return nil
		}
	}

	b.WriteString(`<a href="` + target + `">`)
	if len(v.Children) == 0 {
		b.WriteString(html.EscapeString(v.Target))
	} else if err := r.writeNodes(b, v.Children, snap); err != nil {
		return err
	}
	b.WriteString("</a>")
	return nil
}

func mention(v markup.Mention, snap markup.EntitySnapshot) string {
	switch v.Kind {
	case markup.MentionChannel:
		if name, ok := snap.Channel(v.ID); ok {
			return `<a class="mention">#` + html.EscapeString(name) + `</a>`
		}
		return `<a class="mention">#channel</a>`
	case markup.MentionRole:
		if role, ok := snap.Role(v.ID); ok {
			return `<a class="mention" style="color: ` + roleColor(role.Color) + `">@` + html.EscapeString(role.Name) + `</a>`
		}
		return `<a class="mention" style="color: inherit">@role</a>`
	case markup.MentionUser:
		return `<a class="mention">@user</a>`
	case markup.MentionEveryone:
		return `<a class="mention">@everyone</a>`
	case markup.MentionHere:
		return `<a class="mention">@here</a>`
	}
	panic(fmt.Sprintf("unknown mention kind %q", v.Kind))
}

func roleColor(c int) string {
	if c == 0 {
		return "inherit"
	}
	return fmt.Sprintf("#%06x", c&0xffffff)
}

func customEmoji(v markup.CustomEmoji) string {
	id := url.PathEscape(v.ID)
	var src string
	switch v.Source {
	case markup.EmojiDiscord:
		ext := "webp"
		if v.Animated {
			ext = "gif"
		}
		src = "https://cdn.discordapp.com/emojis/" + id + "." + ext + "?size=128&quality=lossless"
	case markup.EmojiTwitch:
		src = "https://static-cdn.jtvnw.net/emoticons/v2/" + id + "/default/dark/1.0"
	case markup.EmojiKick:
		src = "https://files.kick.com/emotes/" + id + "/fullsize"
	default:
		panic(fmt.Sprintf("unknown emoji source %q", v.Source))
	}
	return `<img class="emoji" src="` + html.EscapeString(src) + `" alt=":` + html.EscapeString(v.Name) + `:">`
}

func (r *Renderer) formatTimestamp(t time.Time, format string) string {
	local := t.In(r.loc)
	switch format {
	case "t":
		return local.Format("3:04 PM")
	case "T":
		return local.Format("3:04:05 PM")
	case "d":
		return local.Format("1/2/2006")
	case "D":
		return local.Format("January 2, 2006")
	case "F":
		return local.Format("January 2, 2006 3:04 PM")
	case "R":
		return relative(t, r.now())
	default:
		return local.Format("Jan 2, 2006, 3:04 PM")
	}
}

func relative(t, now time.Time) string {
	if !t.After(now) {
		return humanize.RelTime(t, now, "ago", "from now")
	}
	s := strings.TrimSpace(humanize.RelTime(t, now, "", ""))
	if s == "now" {
		return s
	}
	return "in " + s
}
