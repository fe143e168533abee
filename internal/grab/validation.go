package grab

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"

	"github.com/slipstream/acquire/internal/torrent"
)

var (
	ErrInvalidTorrent = errors.New("invalid torrent file")
	ErrInvalidNZB     = errors.New("invalid NZB file")
	ErrHTMLResponse   = errors.New("received HTML instead of torrent/nzb")
	ErrEmptyContent   = errors.New("empty content")
)

// ValidateTorrent checks that content is bencoded metainfo with an info
// dictionary.
func ValidateTorrent(content []byte) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if isHTMLContent(content) {
		return ErrHTMLResponse
	}
	if !torrent.IsTorrent(content) {
		return ErrInvalidTorrent
	}
	return nil
}

// ValidateNZB checks that content is an NZB document with at least one
// segment.
func ValidateNZB(content []byte) error {
	if len(content) == 0 {
		return ErrEmptyContent
	}
	if isHTMLContent(content) {
		return ErrHTMLResponse
	}
	if !bytes.Contains(content, []byte("<nzb")) {
		return fmt.Errorf("%w: missing nzb root element", ErrInvalidNZB)
	}

	var nzb nzbDocument
	if err := xml.Unmarshal(content, &nzb); err != nil {
		return fmt.Errorf("%w: XML parse error: %v", ErrInvalidNZB, err)
	}
	for _, file := range nzb.Files {
		if len(file.Segments) > 0 {
			return nil
		}
	}
	return fmt.Errorf("%w: no segments in NZB files", ErrInvalidNZB)
}

// ExtractMagnetURL returns the magnet link when a download link answered
// with a bare magnet URI instead of a file.
func ExtractMagnetURL(content []byte) (string, bool) {
	trimmed := bytes.TrimSpace(content)
	if !bytes.HasPrefix(trimmed, []byte("magnet:")) {
		return "", false
	}
	link := string(trimmed)
	if idx := strings.IndexAny(link, "\r\n"); idx != -1 {
		link = link[:idx]
	}
	return strings.TrimSpace(link), true
}

func isHTMLContent(content []byte) bool {
	check := strings.ToLower(string(content[:min(len(content), 1024)]))
	for _, indicator := range []string{"<!doctype html", "<html", "<head", "<body"} {
		if strings.Contains(check, indicator) {
			return true
		}
	}
	return false
}

type nzbDocument struct {
	XMLName xml.Name  `xml:"nzb"`
	Files   []nzbFile `xml:"file"`
}

type nzbFile struct {
	Subject  string       `xml:"subject,attr"`
	Segments []nzbSegment `xml:"segments>segment"`
}

type nzbSegment struct {
	Bytes  int64  `xml:"bytes,attr"`
	Number int    `xml:"number,attr"`
	ID     string `xml:",chardata"`
}
