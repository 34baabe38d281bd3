package archiver

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/spf13/afero"
)

// spill writes batch, one JSON record per line, to cfg.SpillFilePath for
// replay on the next Start. Used only when finalFlush's deadline expires
// with records still undelivered — the crash-recovery path of spec.md
// §4.3's shutdown contract.
func (p *Pipeline) spill(batch []Record) error {
	if p.cfg.SpillFilePath == "" {
		p.Logf("Archiver: no SpillFilePath configured, dropping %d undelivered records", len(batch))
		return nil
	}
	f, err := p.fs.OpenFile(p.cfg.SpillFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, rec := range batch {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// replaySpill reads back any records left by a prior spill, resubmits them
// through Submit, and removes the spill file. Called from Start before the
// flusher goroutine is spawned, so replayed records are ordinary buffered
// entries by the time ingest resumes.
func (p *Pipeline) replaySpill() error {
	if p.cfg.SpillFilePath == "" {
		return nil
	}
	exists, err := afero.Exists(p.fs, p.cfg.SpillFilePath)
	if err != nil || !exists {
		return err
	}

	f, err := p.fs.Open(p.cfg.SpillFilePath)
	if err != nil {
		return err
	}

	var recovered []Record
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			f.Close()
			return err
		}
		recovered = append(recovered, rec)
	}
	f.Close()

	if err := p.fs.Remove(p.cfg.SpillFilePath); err != nil {
		return err
	}

	for _, rec := range recovered {
		if !p.Submit(rec) {
			p.Logf("Archiver: shed recovered record for entity %q on replay (buffer full)", rec.EntityID)
		}
	}
	if len(recovered) > 0 {
		p.Logf("Archiver: replayed %d spilled records", len(recovered))
	}
	return nil
}
