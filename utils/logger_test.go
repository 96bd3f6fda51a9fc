/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLogLevel(" DEBUG "))
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("nonsense"))
}

func TestLoggerRegistry(t *testing.T) {
	var buf bytes.Buffer
	ConfigureConsoleOutput(&buf)
	l := NewLogger("registry-test")
	assert.Same(t, l, GetLogger("registry-test"))
	assert.True(t, SetLoggerLevel("registry-test", "error"))
	assert.False(t, SetLoggerLevel("missing", "error"))

	l.Info("hidden")
	l.Error("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "DATABASE"}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "slow query",
		Data:    logrus.Fields{"duration": "3s"},
	}
	out, err := f.Format(entry)
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &rec))
	assert.Equal(t, "warning", rec["level"])
	assert.Equal(t, "DATABASE", rec["model"])
	assert.Equal(t, "slow query", rec["message"])
	assert.Equal(t, "3s", rec["fields"].(map[string]interface{})["duration"])
}

func TestLog4jFormatterPlain(t *testing.T) {
	f := &Log4jColorFormatter{LoggerName: "SESSION", NameWidth: 10, DisableColors: true}
	out, err := f.Format(&logrus.Entry{Time: time.Now(), Level: logrus.InfoLevel, Message: "hello"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "   INFO")
	assert.Contains(t, string(out), "[   SESSION]")
	assert.Contains(t, string(out), ": hello")
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("DBCTX_TEST_BOOL", "true")
	t.Setenv("DBCTX_TEST_DUR", "15")
	assert.True(t, EnvDefaultBool("DBCTX_TEST_BOOL", false))
	assert.Equal(t, 15*time.Second, EnvDefaultDuration("DBCTX_TEST_DUR", time.Second))
	assert.Equal(t, "x", EnvDefaultString("DBCTX_TEST_UNSET", "x"))

	t.Setenv("DBCTX_TEST_INT", "42")
	t.Setenv("DBCTX_TEST_BAD_INT", "many")
	assert.Equal(t, 42, EnvDefaultInt("DBCTX_TEST_INT", 1))
	assert.Equal(t, 1, EnvDefaultInt("DBCTX_TEST_BAD_INT", 1))
}
