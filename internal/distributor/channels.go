package distributor

import "github.com/me/subarray/internal/scanconfig"

// MaxOutputLinks bounds the number of output links per FSP entry.
const MaxOutputLinks = 80

// fineChannelBW is the bandwidth of one fine channel in Hz.
const fineChannelBW = scanconfig.FrequencySliceBW / (scanconfig.ChannelGroups * scanconfig.ChannelsPerGroup)

// OutputChannel is one surviving (post-averaging) output channel.
type OutputChannel struct {
	ChannelID       int     `json:"channel_id"`
	Bandwidth       float64 `json:"bandwidth"`
	CenterFrequency float64 `json:"center_frequency"`
}

// OutputLink is one non-empty output link with its member channels.
type OutputLink struct {
	LinkID   int             `json:"link_id"`
	Channels []OutputChannel `json:"channels"`
}

// BuildOutputLinks partitions a frequency slice's channels into averaged
// output channels and buckets them into links. Channels are grouped into
// fixed-size groups; a group's averaging factor 0 drops it, any other
// factor merges that many fine channels into one output channel. Every
// surviving channel lands in exactly one link; non-empty links report each
// channel's bandwidth and center frequency computed from the slice span.
// The channel-to-link assignment follows the entry's output link map and
// carries no further meaning.
func BuildOutputLinks(avgMap, linkMap [][2]int, sliceLow float64, channelOffset int) []OutputLink {
	byLink := make(map[int][]OutputChannel)
	var linkOrder []int

	for g, pair := range avgMap {
		factor := pair[1]
		if factor == 0 {
			continue
		}
		groupStart := g * scanconfig.ChannelsPerGroup
		for j := 0; j < scanconfig.ChannelsPerGroup/factor; j++ {
			fineStart := groupStart + j*factor
			id := channelOffset + fineStart
			ch := OutputChannel{
				ChannelID:       id,
				Bandwidth:       fineChannelBW * float64(factor),
				CenterFrequency: sliceLow + (float64(fineStart)+float64(factor)/2)*fineChannelBW,
			}
			link := linkFor(linkMap, id)
			if _, seen := byLink[link]; !seen {
				linkOrder = append(linkOrder, link)
			}
			byLink[link] = append(byLink[link], ch)
		}
	}

	links := make([]OutputLink, 0, len(linkOrder))
	for _, id := range linkOrder {
		links = append(links, OutputLink{LinkID: id, Channels: byLink[id]})
	}
	return links
}

// linkFor picks the link for a channel: the mapping pair with the greatest
// first-channel not exceeding the channel id. Channels below every pair
// (or with no map at all) go to link 1.
func linkFor(linkMap [][2]int, channelID int) int {
	link := 1
	bestStart := -1
	for _, pair := range linkMap {
		if pair[0] <= channelID && pair[0] > bestStart {
			bestStart = pair[0]
			link = pair[1]
		}
	}
	if link > MaxOutputLinks {
		link = MaxOutputLinks
	}
	return link
}
