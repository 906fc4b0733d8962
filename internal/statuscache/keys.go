package statuscache

import "fmt"

// SubKey is the primary cache key holding the full serialized Submission.
func SubKey(submissionID string) string {
	return fmt.Sprintf("sub:%s", submissionID)
}

// IndexKey is a secondary index entry supporting cheap listing by
// route+status; it holds a marker pointing back at the primary entry
// rather than a copy of the body, so the body is written once and
// indexed many times.
func IndexKey(routeID string, status, submissionID string) string {
	return fmt.Sprintf("idx:%s:%s:%s", routeID, status, submissionID)
}

// RefreshLeaseKey is the cross-process mutex guarding at-most-one
// concurrent driver poll per submission.
func RefreshLeaseKey(submissionID string) string {
	return fmt.Sprintf("refresh:%s", submissionID)
}
