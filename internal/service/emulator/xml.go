package emulator

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

type errorResponse struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource,omitempty"`
}

type listedObject struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Xmlns                 string         `xml:"xmlns,attr"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	KeyCount              int            `xml:"KeyCount"`
	MaxKeys               int            `xml:"MaxKeys"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []listedObject `xml:"Contents"`
}

func errorMessage(code string) string {
	switch code {
	case "NoSuchKey":
		return "The specified key does not exist."
	case "BadDigest":
		return "The Content-MD5 you specified did not match what we received."
	case "PreconditionFailed":
		return "At least one of the pre-conditions you specified did not hold."
	case "InvalidArgument":
		return "Invalid Argument"
	default:
		return code
	}
}

func writeError(w http.ResponseWriter, status int, code, resource string) {
	writeXML(w, status, errorResponse{
		Code:     code,
		Message:  errorMessage(code),
		Resource: resource,
	})
}

func writeXML(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)

	fmt.Fprint(w, xml.Header)
	_ = xml.NewEncoder(w).Encode(payload)
}
