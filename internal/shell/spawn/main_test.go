package spawn

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/moby/sys/reexec"

	"github.com/GriffinCanCode/termcore/internal/shell/job"
)

const helperEntry = "termcore-test-helper"

func TestMain(m *testing.M) {
	reexec.Register(helperEntry, func() {
		fmt.Printf("helper args=%v", os.Args[1:])
		os.Exit(0)
	})
	if reexec.Init() {
		return
	}
	os.Exit(m.Run())
}

type result struct {
	stdout string
	stderr string
	code   int
}

// collect drains a job until it is done and returns what it wrote.
func collect(t *testing.T, j job.Job) result {
	t.Helper()
	var out, errOut bytes.Buffer
	buf := make([]byte, 4096)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		for _, s := range j.Streams() {
			dst := &out
			if s.Name == "stderr" {
				dst = &errOut
			}
			for {
				n, err := s.Read(buf)
				dst.Write(buf[:n])
				if err == io.EOF {
					s.Close()
					break
				}
				if err != nil {
					break
				}
			}
		}
		j.Meta().Reap()
		if job.Done(j) {
			j.Close()
			return result{stdout: out.String(), stderr: errOut.String(), code: j.Meta().ExitCode()}
		}
		time.Sleep(5 * time.Millisecond)
	}
	j.Meta().Signal(9)
	t.Fatalf("job %q did not finish; stdout=%q stderr=%q", j.Meta().Command, out.String(), errOut.String())
	return result{}
}
