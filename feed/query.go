package feed

import "fmt"

// auditFeedQuery is the page query document. The account id, time frame
// and marker are embedded as literals; the API takes the time frame as a
// duration/point expression (e.g. "last.PT5D") and the marker verbatim
// from the previous page's response.
const auditFeedQuery = `{
	auditFeed(accountIDs:[%s] timeFrame:"%s" marker:"%s") {
		marker
		fetchedCount
		hasMore
		accounts {
			id
			records {
				time
				fieldsMap
			}
		}
	}
}`

// BuildPageQuery produces the query text for one page. Pure, no I/O, no
// validation: malformed account ids or time frames surface as API-level
// query rejections in the transport.
func BuildPageQuery(accountID, timeFrame, marker string) string {
	return fmt.Sprintf(auditFeedQuery, accountID, timeFrame, marker)
}
