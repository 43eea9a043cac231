package observability

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/folioshelf/api/internal/platform/requestctx"
)

// CloudTraceHeader is the Google load balancer propagation header:
// TRACE_ID/SPAN_ID;o=OPTIONS with a 32 hex digit trace id and a decimal span id.
const CloudTraceHeader = "X-Cloud-Trace-Context"

const (
	attrPublicationID = attribute.Key("folio.publication.id")
	attrCallerID      = attribute.Key("enduser.id")
)

var tracer = otel.Tracer("github.com/folioshelf/api/internal/platform/observability")

// TraceMiddleware continues the caller's Cloud Trace context, opens a server span and exposes
// the ids to loggers through requestctx. The span is renamed to the matched route once the
// router has resolved it, so "/pub/fetch-by-id" rather than every raw path shows up in traces.
func TraceMiddleware(projectID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			remote, sampled, ok := parseCloudTrace(r.Header.Get(CloudTraceHeader))
			if ok {
				ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
			}

			ctx, span := tracer.Start(ctx, r.Method+" "+SanitizeRoute(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(requestAttributes(r)...),
			)
			defer span.End()

			sc := span.SpanContext()
			info := requestctx.TraceInfo{
				TraceID:   sc.TraceID().String(),
				SpanID:    sc.SpanID().String(),
				Sampled:   sc.IsSampled() || sampled,
				ProjectID: projectID,
			}
			if header := formatCloudTrace(sc, info.Sampled); header != "" {
				w.Header().Set(CloudTraceHeader, header)
			}

			r = r.WithContext(requestctx.WithTrace(ctx, info))
			next.ServeHTTP(w, r)

			if route := routePattern(r); route != "" {
				span.SetName(r.Method + " " + SanitizeRoute(route))
				span.SetAttributes(semconv.HTTPRoute(SanitizeRoute(route)))
			}
		})
	}
}

// TagPublication records the publication a request acts on.
func TagPublication(ctx context.Context, publicationID string) {
	if id := SanitizeID(strings.TrimSpace(publicationID)); id != "" {
		trace.SpanFromContext(ctx).SetAttributes(attrPublicationID.String(id))
	}
}

// TagCaller records the authenticated merchant.
func TagCaller(ctx context.Context, uid string) {
	if id := SanitizeID(strings.TrimSpace(uid)); id != "" {
		trace.SpanFromContext(ctx).SetAttributes(attrCallerID.String(id))
	}
}

func parseCloudTrace(header string) (trace.SpanContext, bool, bool) {
	traceHex, rest, found := strings.Cut(strings.TrimSpace(header), "/")
	if !found {
		return trace.SpanContext{}, false, false
	}
	traceID, err := trace.TraceIDFromHex(strings.TrimSpace(traceHex))
	if err != nil {
		return trace.SpanContext{}, false, false
	}
	spanPart, options, _ := strings.Cut(rest, ";")
	spanID, ok := parseCloudSpanID(spanPart)
	if !ok {
		return trace.SpanContext{}, false, false
	}

	sampled := strings.TrimSpace(options) == "o=1"
	flags := trace.TraceFlags(0)
	if sampled {
		flags = trace.FlagsSampled
	}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: flags,
		Remote:     true,
	})
	return sc, sampled, sc.IsValid()
}

// parseCloudSpanID reads the decimal span id. Some proxies forward the hex form, which is
// accepted when it is exactly 16 digits.
func parseCloudSpanID(value string) (trace.SpanID, bool) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseUint(value, 10, 64); err == nil && n != 0 {
		var id trace.SpanID
		for i := 7; i >= 0; i-- {
			id[i] = byte(n)
			n >>= 8
		}
		return id, true
	}
	if len(value) == 16 {
		if id, err := trace.SpanIDFromHex(value); err == nil {
			return id, true
		}
	}
	return trace.SpanID{}, false
}

func formatCloudTrace(sc trace.SpanContext, sampled bool) string {
	if !sc.IsValid() {
		return ""
	}
	id := sc.SpanID()
	var n uint64
	for _, b := range id {
		n = n<<8 | uint64(b)
	}
	option := 0
	if sampled {
		option = 1
	}
	return fmt.Sprintf("%s/%d;o=%d", sc.TraceID(), n, option)
}

func requestAttributes(r *http.Request) []attribute.KeyValue {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	attrs := []attribute.KeyValue{
		semconv.HTTPRequestMethodKey.String(SanitizeMethod(r.Method)),
		semconv.URLScheme(scheme),
		semconv.URLPath(SanitizeRoute(r.URL.Path)),
	}
	if r.Host != "" {
		attrs = append(attrs, semconv.ServerAddress(sanitizeString(r.Host, 128)))
	}
	if ua := r.UserAgent(); ua != "" {
		attrs = append(attrs, semconv.UserAgentOriginal(sanitizeString(ua, 256)))
	}
	if id := r.URL.Query().Get("id"); id != "" {
		attrs = append(attrs, attrPublicationID.String(SanitizeID(id)))
	}
	return attrs
}
