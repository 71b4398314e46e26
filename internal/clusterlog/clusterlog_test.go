package clusterlog

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesComponentField(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Component: "master", Node: "node1", Output: &buf, Level: logrus.InfoLevel})
	log.Info("master_elected")

	out := buf.String()
	require.Contains(t, out, "master_elected")
	require.Contains(t, out, "component=master")
	require.Contains(t, out, "node=node1")
}

func TestWithAddsFieldsWithoutMutatingParent(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Component: "leader", Output: &buf})
	child := log.With(logrus.Fields{"job_id": "abc123"})
	child.Info("job_dispatched")

	require.Contains(t, buf.String(), "job_id=abc123")
}
