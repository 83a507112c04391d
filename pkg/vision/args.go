package vision

import "strconv"

// buildArgs returns the server command line for one launch attempt.
// Optional flags are omitted when unset.
func buildArgs(project string, port int, host, stopKey string, o Options) []string {
	args := []string{
		"-data", project,
		"-port", strconv.Itoa(port),
		"-host", host,
		"-stop_key", stopKey,
	}
	if o.GPU != 0 {
		args = append(args, "-gpu", strconv.Itoa(o.GPU))
	}
	if o.APIKey != "" {
		args = append(args, "-api_key", o.APIKey)
	}
	if o.Password != "" {
		args = append(args, "-password", o.Password)
	}
	if o.DisableCode {
		args = append(args, "-disable_code", "true")
	}
	if o.TutorialOnly {
		args = append(args, "-tutorial_only", "true")
	}
	return args
}
