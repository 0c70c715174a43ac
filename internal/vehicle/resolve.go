package vehicle

import "bytes"

// resolveIndex finds which request descriptor a response actually answers,
// the same job the original vehicle manager's resolve_index does for its
// single-slot asynchronous response buffer: a short or negative response
// (0x7F) never resolves, and a candidate matches only when the response's
// service ID echoes the request's SID+0x40 AND the bytes immediately after
// it echo the request's own sub-function/identifier bytes — guarding
// against two catalogue entries sharing one response CAN ID.
func resolveIndex(resp []byte, candidates []RequestDescriptor) (int, bool) {
	if len(resp) < 2 {
		return -1, false
	}
	if resp[0] == 0x7F {
		return -1, false
	}

	for i, c := range candidates {
		if len(c.Request) < 2 {
			continue
		}
		expectedSID := c.Request[0] + 0x40
		if resp[0] != expectedSID {
			continue
		}
		sub := c.Request[1:]
		if len(resp) < 1+len(sub) {
			continue
		}
		if bytes.Equal(resp[1:1+len(sub)], sub) {
			return i, true
		}
	}
	return -1, false
}

func requestsWithRspID(all []RequestDescriptor, rspID uint32) []RequestDescriptor {
	out := make([]RequestDescriptor, 0, len(all))
	for _, r := range all {
		if r.RspID == rspID {
			out = append(out, r)
		}
	}
	return out
}
