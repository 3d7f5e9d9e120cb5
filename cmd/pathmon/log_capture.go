package main

import (
	"bytes"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// logInterceptor buffers log lines while the UI owns the terminal.
// Writes are serialized by logrus, and replay only happens after the
// output has been switched back.
type logInterceptor struct {
	keep     int
	messages []string
}

func (li *logInterceptor) Write(p []byte) (n int, err error) {
	li.messages = append(li.messages, string(bytes.TrimSpace(p)))

	if li.keep > 0 {
		li.truncate()
	}

	return len(p), nil
}

func interceptLogs(keep int) *logInterceptor {
	li := &logInterceptor{keep: keep}
	logrus.SetOutput(li)
	return li
}

func (li *logInterceptor) truncate() {
	if delta := len(li.messages) - li.keep; delta > 0 {
		li.messages = li.messages[delta:len(li.messages)]
	}
}

func (li *logInterceptor) replay(w io.Writer) {
	for _, msg := range li.messages {
		fmt.Fprintln(w, msg)
	}
}
