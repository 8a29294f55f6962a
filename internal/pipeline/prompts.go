package pipeline

const classifyPrompt = `Classify the type of this medical document into one of the following:
- medical_license
- medical_degree
- training_certificate
- board_certificate

If it is not a valid medical document, or it does not match any of those four types, classify it as:
- not_a_valid_credential

Document:
"""
%s
"""

Similar documents for context:
"""
%s
"""

Respond with only the type name from the list.`

const extractPrompt = `Extract the following credential information from the medical document below:
- Name of the medical professional
- License number
- Issue date
- Expiry date (if available)
- Institution name
- Certifying body (e.g., MCI, NMC, GMC)

Respond with exactly this JSON object and nothing else. Use null for any field that is not present:
{
  "name": "...",
  "license_number": "...",
  "issue_date": "...",
  "expiry_date": "...",
  "institution": "...",
  "certifying_body": "..."
}

Do not wrap the JSON in code fences or quotes.

Document:
"""
%s
"""`

const verifyPrompt = `You are verifying the validity of a medical credential against reference records.

Credential to verify:
"""
%s
"""

Reference matches from the database:
"""
%s
"""

Rules for validation (all comparisons ignore case):
1. The name in the credential matches the name in a reference record.
2. The license number in the credential matches the license number in the reference record.
3. The issue date in the credential matches the issue date in the reference record.
4. The expiry date may be stored as "expiry_date", "valid_until", "valid_through" or "valid_till". It matches if any of these equals the credential's expiry date.
5. The institution may be stored as "institution", "certifying_body", "certification_body" or "university". It matches if any of these equals the credential's institution.

Respond with exactly one of these JSON objects and nothing else:
{"status": "valid"}
{"status": "invalid"}`

const crosscheckPrompt = `You are an expert medical document auditor.

Compare the following three sources and report any inconsistencies:

1. Credential extraction:
%s

2. Credential verification status:
%s

3. Resume content:
"""
%s
"""

Check consistency across name, license number, institution or university, certifying body, issuance date and expiry date.
Allow minor name variations (e.g. "Harvard" vs "Harvard Medical School"), differing date formats, and fuzzy matches.
Report mismatches such as a resume claiming a 2020 degree when the credential was issued in 2022.

Respond with exactly this JSON object and nothing else:
{
  "consistency_report": {
    "name_match": true/false,
    "license_number_match": true/false,
    "institution_match": true/false,
    "certifying_body_match": true/false,
    "issue_date_match": true/false,
    "expiry_date_match": true/false
  },
  "discrepancies": ["..."]
}`

const credibilityPrompt = `You are a medical credential assessment agent.

Analyze the consistency report and verification result of a doctor's credentials and produce a credibility score between 0 and 100.

Inputs:
1. Consistency report:
%s

2. Verification status: %s

Scoring guidelines:
- If the verification status is "valid", start from a base score of %d. If it is "invalid", start from %d.
- Add points for each consistent field in the consistency report.
- Keep the score between 0 and 100.
- List the discrepancies that lowered the score.
- Summarize the analysis, including discrepancies.
- Set flag to red, yellow or green to indicate the risk.

Respond with exactly this JSON object and nothing else:
{
  "credibility_score": <integer 0-100>,
  "summary": "...",
  "flag": "red|yellow|green",
  "discrepancies": ["..."]
}`
