package runner

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode"

	"deployplane/pkg/api"
)

// EnvPrefix prefixes every variable exported to the deploy command.
const EnvPrefix = "DEPLOY_"

// TaskEnv builds the environment for a claimed job. Top-level payload keys
// become DEPLOY_<UPPER_SNAKE> variables; job and runtime node fields are
// set last so the payload cannot override them.
func TaskEnv(j *api.JobResponse, runnerID string) map[string]string {
	env := make(map[string]string)

	if len(j.Payload) > 0 {
		dec := json.NewDecoder(bytes.NewReader(j.Payload))
		dec.UseNumber()
		var payload map[string]any
		if dec.Decode(&payload) == nil {
			for k, v := range payload {
				name := EnvPrefix + envName(k)
				if name == EnvPrefix {
					continue
				}
				env[name] = envValue(v)
			}
		}
	}

	env[EnvPrefix+"JOB_ID"] = j.ID
	env[EnvPrefix+"JOB_TYPE"] = j.Type
	env[EnvPrefix+"RUNNER_ID"] = runnerID
	if j.PreviewURL != "" {
		env[EnvPrefix+"PREVIEW_URL"] = j.PreviewURL
	}
	if n := j.RuntimeNode; n != nil {
		env[EnvPrefix+"NODE_NAME"] = n.Name
		env[EnvPrefix+"AGENT_BASE_URL"] = n.AgentBaseURL
		env[EnvPrefix+"GATEWAY_BASE_URL"] = n.GatewayBaseURL
	}
	return env
}

// envName converts a payload key such as "basePath" to "BASE_PATH".
func envName(key string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range key {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			prevLower = false
		case unicode.IsLower(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
			prevLower = true
		default:
			if b.Len() > 0 && !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
			prevLower = false
		}
	}
	return strings.Trim(b.String(), "_")
}

func envValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
