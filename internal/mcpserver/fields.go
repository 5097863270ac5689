package mcpserver

// RecordFields describes a catalog agent record for LLM consumers.
const RecordFields = `# rankwatch Agent Record

Each agent is identified by its canonical absolute ` + "`" + `link` + "`" + `. One crawl produces
one batch of records; the store keeps the latest values plus a rank history.

## Fields

| Field | Source |
|-------|--------|
| link | Listing card href, resolved against the catalog URL |
| name | Detail page title, else the card name |
| description | Card description, else the detail description |
| avatar_url | Card image |
| price | Detail run cost as "<cost> / run (approx.)", else the card price text |
| author | Card author, else the detail owner |
| rank | First integer in the card rank badge, else the 1-based card position |
| tags | Detail page tags, de-duplicated in order |
| stats | Detail page key/value statistics |
| version | Detail page version |
| last_updated_text | Detail page "updated" text, as displayed |
| external_links | Outbound links from the detail page |
| is_active | Present in the latest crawl |
| first_seen | Crawl time the agent first appeared |
| last_updated | Crawl time of the last crawl that saw or deactivated the agent |

## Rules

1. Ranks are unique within one crawl and start at 1.
2. An agent missing from a crawl becomes inactive; it keeps its history.
3. An inactive agent that reappears is reactivated with its original first_seen.
4. Rank history has one sample per agent per crawl.
`
