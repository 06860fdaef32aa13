package swarm

import (
	"fmt"
	"net/url"

	"github.com/anacrolix/torrent/metainfo"
)

// BuildLocator renders a magnet link carrying the trackers and HTTP web seeds
// of a torrent, e.g. magnet:?xt=urn:btih:<hex>&dn=<name>&tr=<tracker>&ws=<url>.
func BuildLocator(infoHash, name string, trackers, webSeeds []string) (string, error) {
	var hash metainfo.Hash
	if err := hash.FromHexString(infoHash); err != nil {
		return "", fmt.Errorf("parse info hash %q: %w", infoHash, err)
	}

	params := url.Values{}
	for _, ws := range webSeeds {
		params.Add("ws", ws)
	}

	magnet := metainfo.Magnet{
		InfoHash:    hash,
		DisplayName: name,
		Trackers:    append([]string(nil), trackers...),
		Params:      params,
	}
	return magnet.String(), nil
}
