package ledger

// VerifyResult is the machine-readable output of a chain verification pass
type VerifyResult struct {
	Pass           bool   `json:"pass"`
	RecordCount    int    `json:"record_count"`
	FirstBrokenSeq uint64 `json:"first_broken_seq,omitempty"`
	Message        string `json:"message,omitempty"`
}

// VerifyChain walks every entry in append order and recomputes the digest
// chain. A single rewritten byte anywhere in history breaks every digest
// after it, so the first mismatch pinpoints the tampered record.
func (l *Ledger) VerifyChain() (VerifyResult, error) {
	res := VerifyResult{Pass: true}
	prev := ""
	var lastSeq uint64

	err := l.scan(func(e *Entry) bool {
		res.RecordCount++
		if lastSeq != 0 && e.Seq != lastSeq+1 {
			res.Pass = false
			res.FirstBrokenSeq = e.Seq
			res.Message = "sequence gap"
			return false
		}
		if e.Digest != "" && e.Digest != chainDigest(prev, e) {
			res.Pass = false
			res.FirstBrokenSeq = e.Seq
			res.Message = "digest mismatch"
			return false
		}
		prev = e.Digest
		lastSeq = e.Seq
		return true
	})
	if err != nil {
		return res, err
	}
	return res, nil
}
