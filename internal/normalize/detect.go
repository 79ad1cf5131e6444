package normalize

import (
	"net/url"
	"path"
	"strings"

	"genorch/internal/domain"
)

var extTypes = map[string]domain.OutputType{
	".png":  domain.OutputImage,
	".jpg":  domain.OutputImage,
	".jpeg": domain.OutputImage,
	".webp": domain.OutputImage,
	".gif":  domain.OutputImage,
	".bmp":  domain.OutputImage,
	".heic": domain.OutputImage,
	".mp4":  domain.OutputVideo,
	".mov":  domain.OutputVideo,
	".webm": domain.OutputVideo,
	".mkv":  domain.OutputVideo,
	".avi":  domain.OutputVideo,
	".m3u8": domain.OutputVideo,
	".mp3":  domain.OutputAudio,
	".wav":  domain.OutputAudio,
	".ogg":  domain.OutputAudio,
	".m4a":  domain.OutputAudio,
	".flac": domain.OutputAudio,
	".aac":  domain.OutputAudio,
}

// DetectOutputType guesses the media type of an output URL from its
// extension, then from path segments and a format query parameter.
func DetectOutputType(raw string) domain.OutputType {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return domain.OutputUnknown
	}
	if strings.HasPrefix(raw, "data:") {
		return fromMIME(strings.TrimPrefix(raw, "data:"))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return domain.OutputUnknown
	}
	p := strings.ToLower(u.Path)
	if t, ok := extTypes[path.Ext(p)]; ok {
		return t
	}
	if f := strings.ToLower(u.Query().Get("format")); f != "" {
		if t, ok := extTypes["."+f]; ok {
			return t
		}
	}
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "image", "images", "img":
			return domain.OutputImage
		case "video", "videos":
			return domain.OutputVideo
		case "audio", "audios", "music", "sound":
			return domain.OutputAudio
		}
	}
	return domain.OutputUnknown
}

// DetectOutputTypes classifies every url in order.
func DetectOutputTypes(urls []string) []domain.OutputType {
	if len(urls) == 0 {
		return nil
	}
	out := make([]domain.OutputType, len(urls))
	for i, u := range urls {
		out[i] = DetectOutputType(u)
	}
	return out
}

func fromMIME(s string) domain.OutputType {
	switch {
	case strings.HasPrefix(s, "image/"):
		return domain.OutputImage
	case strings.HasPrefix(s, "video/"):
		return domain.OutputVideo
	case strings.HasPrefix(s, "audio/"):
		return domain.OutputAudio
	default:
		return domain.OutputUnknown
	}
}
