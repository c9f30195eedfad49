package scanner

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"
)

// NFO file names we look for
const (
	ArtistNFO = "artist.nfo"
	AlbumNFO  = "album.nfo"
)

// ArtistInfo represents the tag-bearing fields of an artist.nfo file
type ArtistInfo struct {
	Name  string   `xml:"name" json:"name"`
	Genre []string `xml:"genre" json:"genres,omitempty"`
	Style []string `xml:"style" json:"styles,omitempty"`
	Mood  []string `xml:"mood" json:"moods,omitempty"`
}

// AlbumInfo represents the tag-bearing fields of an album.nfo file
type AlbumInfo struct {
	Title  string   `xml:"title" json:"title"`
	Artist string   `xml:"artist" json:"artist,omitempty"`
	Year   int      `xml:"year" json:"year,omitempty"`
	Genre  []string `xml:"genre" json:"genres,omitempty"`
	Style  []string `xml:"style" json:"styles,omitempty"`
	Mood   []string `xml:"mood" json:"moods,omitempty"`
	Theme  []string `xml:"theme" json:"themes,omitempty"`
}

// DirTags are the genre and mood tags that apply to every file in a directory
type DirTags struct {
	Artist string   `json:"artist,omitempty"`
	Album  string   `json:"album,omitempty"`
	Genres []string `json:"genres,omitempty"`
	Moods  []string `json:"moods,omitempty"`
}

// ParseArtistNFO parses an artist.nfo file
func ParseArtistNFO(path string) (*ArtistInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var artist ArtistInfo
	if err := xml.Unmarshal(data, &artist); err != nil {
		return nil, err
	}
	return &artist, nil
}

// ParseAlbumNFO parses an album.nfo file
func ParseAlbumNFO(path string) (*AlbumInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var album AlbumInfo
	if err := xml.Unmarshal(data, &album); err != nil {
		return nil, err
	}
	return &album, nil
}

// tagCache resolves DirTags once per directory. Album tags come from the
// directory itself; artist tags are inherited from parents up to the library root.
type tagCache struct {
	dirs map[string]DirTags
}

func newTagCache() *tagCache {
	return &tagCache{dirs: make(map[string]DirTags)}
}

func (c *tagCache) forDir(dir, root string) DirTags {
	if t, ok := c.dirs[dir]; ok {
		return t
	}

	var tags DirTags
	if album, err := ParseAlbumNFO(filepath.Join(dir, AlbumNFO)); err == nil {
		tags.Album = album.Title
		tags.Artist = album.Artist
		tags.Genres = appendUnique(tags.Genres, album.Genre, album.Style)
		tags.Moods = appendUnique(tags.Moods, album.Mood, album.Theme)
	}

	for d := dir; ; d = filepath.Dir(d) {
		if artist, err := ParseArtistNFO(filepath.Join(d, ArtistNFO)); err == nil {
			if tags.Artist == "" {
				tags.Artist = artist.Name
			}
			tags.Genres = appendUnique(tags.Genres, artist.Genre, artist.Style)
			tags.Moods = appendUnique(tags.Moods, artist.Mood)
			break
		}
		if d == root || d == filepath.Dir(d) || !strings.HasPrefix(d, root) {
			break
		}
	}

	c.dirs[dir] = tags
	return tags
}

func appendUnique(dst []string, lists ...[]string) []string {
	for _, list := range lists {
		for _, v := range list {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "" {
				continue
			}
			dup := false
			for _, existing := range dst {
				if existing == v {
					dup = true
					break
				}
			}
			if !dup {
				dst = append(dst, v)
			}
		}
	}
	return dst
}
