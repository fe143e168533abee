// Package torrent holds the torrent-specific pieces of dispatch: info-hash
// derivation, magnet handling, torrent names and seed ratios.
package torrent

import (
	"bytes"
	"crypto/sha1" //nolint:gosec // SHA1 is required for BitTorrent info hash computation
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
)

// ErrCannotDeriveHash is returned when neither a magnet link nor torrent
// metadata is available.
var ErrCannotDeriveHash = errors.New("cannot calculate torrent hash without magnet link or data")

var btihPattern = regexp.MustCompile(`urn:btih:(\w{32,40})`)

// InfoHash derives the 40 character uppercase hex info hash from a magnet
// link or, failing that, from raw .torrent data.
func InfoHash(link string, data []byte) (string, error) {
	if strings.HasPrefix(link, "magnet:") {
		return magnetHash(link)
	}
	if len(data) > 0 {
		return dataHash(data)
	}
	return "", ErrCannotDeriveHash
}

func magnetHash(link string) (string, error) {
	m := btihPattern.FindStringSubmatch(link)
	if m == nil {
		return "", fmt.Errorf("%w: no btih in magnet link", ErrCannotDeriveHash)
	}
	hash := m[1]
	if len(hash) == 32 {
		raw, err := base32.StdEncoding.DecodeString(strings.ToUpper(hash))
		if err != nil {
			return "", fmt.Errorf("decode base32 info hash: %w", err)
		}
		hash = hex.EncodeToString(raw)
	}
	return strings.ToUpper(hash), nil
}

func dataHash(data []byte) (string, error) {
	var outer map[string]interface{}
	if err := bencode.Unmarshal(data, &outer); err != nil {
		return "", fmt.Errorf("decode torrent: %w", err)
	}
	info, ok := outer["info"]
	if !ok {
		return "", fmt.Errorf("%w: torrent has no info dictionary", ErrCannotDeriveHash)
	}
	encoded, err := bencode.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("encode info dictionary: %w", err)
	}
	sum := sha1.Sum(encoded) //nolint:gosec // BitTorrent v1 info hash
	return strings.ToUpper(hex.EncodeToString(sum[:])), nil
}

// Name reads info.name from torrent metadata.
func Name(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("load torrent: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", fmt.Errorf("decode torrent info: %w", err)
	}
	if info.Name == "" {
		return "", errors.New("torrent has no name")
	}
	return info.Name, nil
}

// NameOr returns the torrent name, or fallback when it cannot be read.
func NameOr(data []byte, fallback string) string {
	name, err := Name(data)
	if err != nil {
		return fallback
	}
	return name
}

// IsTorrent reports whether data decodes as torrent metadata.
func IsTorrent(data []byte) bool {
	mi, err := metainfo.Load(bytes.NewReader(data))
	return err == nil && len(mi.InfoBytes) > 0
}
